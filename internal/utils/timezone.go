package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoadLocation 按 IANA 名称加载时区；镜像缺少 tzdata 时退化为 offset 描述的固定时区。
// offset 形如 "+07:00"，两者都无效时返回错误。
func LoadLocation(name, offset string) (*time.Location, error) {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc, nil
		}
	}
	if offset == "" {
		return nil, fmt.Errorf("unknown time zone %q", name)
	}
	secs, err := ParseOffset(offset)
	if err != nil {
		return nil, err
	}
	label := name
	if label == "" {
		label = "UTC" + offset
	}
	return time.FixedZone(label, secs), nil
}

// ParseOffset 解析 "+07:00"、"-03:30" 形式的偏移为秒数。
func ParseOffset(offset string) (int, error) {
	s := strings.TrimSpace(offset)
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return 0, fmt.Errorf("invalid offset %q", offset)
	}
	h, err := strconv.Atoi(s[1:3])
	if err != nil || h > 14 {
		return 0, fmt.Errorf("invalid offset %q", offset)
	}
	m, err := strconv.Atoi(s[4:6])
	if err != nil || m > 59 {
		return 0, fmt.Errorf("invalid offset %q", offset)
	}
	secs := h*3600 + m*60
	if s[0] == '-' {
		secs = -secs
	}
	return secs, nil
}

// FormatOffset 将秒数格式化为 MySQL time_zone 使用的 "+HH:MM" 形式。
func FormatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}

// 查询参数接受的时间格式；不带时区的格式按 loc 解释。
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime 解析查询参数中的时间：RFC3339 原样使用，本地格式按 loc 解释，
// 纯数字视为 Unix 秒。
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q", s)
}
