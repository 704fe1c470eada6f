package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"espdata/internal/services"
	"espdata/internal/utils"
)

type listQuery struct {
	Galon  string `form:"galon" binding:"max=255"`
	From   string `form:"from" binding:"max=64"`
	To     string `form:"to" binding:"max=64"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Order  string `form:"order" binding:"omitempty,oneof=asc desc"`
}

type windowQuery struct {
	From string `form:"from" binding:"max=64"`
	To   string `form:"to" binding:"max=64"`
}

// parseWindow 解析 from/to；空值表示不限。
func (h *Handler) parseWindow(from, to string) (*time.Time, *time.Time, error) {
	var f, t *time.Time
	if from != "" {
		v, err := utils.ParseTime(from, h.loc)
		if err != nil {
			return nil, nil, errors.New("invalid from")
		}
		f = &v
	}
	if to != "" {
		v, err := utils.ParseTime(to, h.loc)
		if err != nil {
			return nil, nil, errors.New("invalid to")
		}
		t = &v
	}
	if f != nil && t != nil && !f.Before(*t) {
		return nil, nil, errors.New("from must be before to")
	}
	return f, t, nil
}

// @Summary      查询读数
// @Tags         data
// @Produce      json
// @Param        galon   query  string  false  "galon 标识"
// @Param        from    query  string  false  "起始时间（含），RFC3339 或 YYYY-MM-DD HH:MM:SS"
// @Param        to      query  string  false  "结束时间（不含）"
// @Param        limit   query  int     false  "条数，默认 100，最大 1000"
// @Param        offset  query  int     false  "偏移"
// @Param        order   query  string  false  "asc|desc，默认 desc"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} map[string]string
// @Router       /data [get]
func (h *Handler) listReadings(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid query")
		return
	}
	from, to, err := h.parseWindow(q.From, q.To)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.readings.List(c, services.ReadingFilter{
		Galon:     q.Galon,
		From:      from,
		To:        to,
		Limit:     q.Limit,
		Offset:    q.Offset,
		Ascending: q.Order == "asc",
	})
	if err != nil {
		h.internalError(c, "list readings", err)
		return
	}
	setNoCache(c)
	respondOK(c, recs)
}

// @Summary      各 galon 最新读数
// @Tags         data
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /data/latest [get]
func (h *Handler) latestAll(c *gin.Context) {
	recs, err := h.readings.LatestAll(c)
	if err != nil {
		h.internalError(c, "latest readings", err)
		return
	}
	setNoCache(c)
	respondOK(c, recs)
}

// @Summary      galon 列表
// @Tags         galons
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /galons [get]
func (h *Handler) listGalons(c *gin.Context) {
	out, err := h.readings.Galons(c)
	if err != nil {
		h.internalError(c, "list galons", err)
		return
	}
	setNoCache(c)
	respondOK(c, out)
}

// @Summary      单个 galon 最新读数
// @Tags         galons
// @Produce      json
// @Param        galon  path  string  true  "galon 标识"
// @Success      200 {object} map[string]interface{}
// @Failure      404 {object} map[string]string
// @Router       /galons/{galon}/latest [get]
func (h *Handler) latestOne(c *gin.Context) {
	rec, err := h.readings.Latest(c, c.Param("galon"))
	if errors.Is(err, services.ErrNotFound) {
		respondError(c, http.StatusNotFound, "No data for galon")
		return
	}
	if err != nil {
		h.internalError(c, "latest reading", err)
		return
	}
	setNoCache(c)
	respondOK(c, rec)
}

// @Summary      galon 统计
// @Tags         galons
// @Produce      json
// @Param        galon  path   string  true   "galon 标识"
// @Param        from   query  string  false  "起始时间（含）"
// @Param        to     query  string  false  "结束时间（不含）"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} map[string]string
// @Router       /galons/{galon}/stats [get]
func (h *Handler) stats(c *gin.Context) {
	var q windowQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid query")
		return
	}
	from, to, err := h.parseWindow(q.From, q.To)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.readings.Stats(c, c.Param("galon"), from, to)
	if err != nil {
		h.internalError(c, "galon stats", err)
		return
	}
	respondOK(c, st)
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	log.WithError(err).WithField("op", op).Error("request failed")
	respondError(c, http.StatusInternalServerError, "internal error")
}
