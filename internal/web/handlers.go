package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ivlev/photo2video/internal/engine"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/sheets"
)

const dateLayout = "2006-01-02"

// Register mounts the API on g. Extra handlers run before every route.
func Register(g gin.IRouter, s *AppState, handler ...gin.HandlerFunc) {
	api := g.Group("/api", handler...)

	api.GET("/photos", s.listPhotos)
	api.POST("/photos/reload", s.reloadPhotos)
	api.POST("/photos/:id/flag", s.flagPhoto)
	api.DELETE("/photos/:id", s.deletePhoto)

	api.GET("/selection", s.getSelection)
	api.POST("/selection/all", s.selectAll)
	api.POST("/selection/:id", s.toggleSelection)
	api.DELETE("/selection", s.clearSelection)

	api.POST("/timelapse", s.startTimelapse)
	api.DELETE("/timelapse", s.cancelTimelapse)
	api.GET("/timelapse/progress", s.getProgress)
	api.GET("/timelapse/artifact", s.downloadArtifact)
}

type photoView struct {
	FileID     string `json:"file_id"`
	FileLink   string `json:"file_link"`
	Timestamp  string `json:"timestamp"`
	Location   string `json:"location"`
	Uploader   string `json:"uploader"`
	UploadDate string `json:"upload_date"`
	UploadTime string `json:"upload_time"`
	Flagged    bool   `json:"flagged"`
	Favorite   bool   `json:"favorite"`
	Row        int    `json:"row"`
	Selected   bool   `json:"selected"`
}

func (s *AppState) view(r photo.Ref) photoView {
	return photoView{
		FileID:     r.FileID,
		FileLink:   r.FileLink,
		Timestamp:  r.Timestamp,
		Location:   r.Location,
		Uploader:   r.Uploader,
		UploadDate: r.UploadDate,
		UploadTime: r.UploadTime,
		Flagged:    r.Flagged,
		Favorite:   r.Favorite,
		Row:        r.Row,
		Selected:   s.selection.Contains(r),
	}
}

func (s *AppState) views(refs []photo.Ref) []photoView {
	out := make([]photoView, len(refs))
	for i, r := range refs {
		out[i] = s.view(r)
	}
	return out
}

// parseFilter reads the filter query parameters. Dates are YYYY-MM-DD,
// times HH:MM.
func parseFilter(c *gin.Context) (photo.Filter, error) {
	f := photo.Filter{Location: c.Query("location")}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(p.name); v != "" {
			t, err := time.Parse(dateLayout, v)
			if err != nil {
				return f, fmt.Errorf("%s: want YYYY-MM-DD, got %q", p.name, v)
			}
			*p.dst = t
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"time_from", &f.TimeFrom}, {"time_to", &f.TimeTo}} {
		if v := c.Query(p.name); v != "" {
			m, ok := photo.ParseClock(v)
			if !ok {
				return f, fmt.Errorf("%s: want HH:MM, got %q", p.name, v)
			}
			*p.dst = m
		}
	}
	for _, p := range []struct {
		name string
		dst  *bool
	}{{"flagged", &f.FlaggedOnly}, {"favorites", &f.FavoritesOnly}} {
		if v := c.Query(p.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return f, fmt.Errorf("%s: %w", p.name, err)
			}
			*p.dst = b
		}
	}
	return f, nil
}

// visible is the filtered and sorted photo list the gallery shows.
func (s *AppState) visible(c *gin.Context) ([]photo.Ref, error) {
	f, err := parseFilter(c)
	if err != nil {
		return nil, err
	}
	return photo.Sort(f.Apply(s.Photos()), c.Query("sort")), nil
}

func (s *AppState) listPhotos(c *gin.Context) {
	refs, err := s.visible(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(photo.DefaultPageSize)))
	items, more := photo.Paginate(refs, page, size)

	c.JSON(http.StatusOK, gin.H{
		"items":     s.views(items),
		"total":     len(refs),
		"page":      max(page, 1),
		"has_more":  more,
		"locations": photo.Locations(s.Photos()),
	})
}

func (s *AppState) reloadPhotos(c *gin.Context) {
	n, err := s.Reload(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("photo reload failed")
		c.JSON(http.StatusBadGateway, gin.H{"msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": n})
}

// editStatus maps photo edit errors to a response code.
func editStatus(err error) int {
	switch {
	case errors.Is(err, errPhotoNotFound):
		return http.StatusNotFound
	case errors.Is(err, errReadOnly):
		return http.StatusNotImplemented
	case errors.Is(err, sheets.ErrNoRow):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

type flagInput struct {
	Flagged *bool `json:"flagged"`
}

// flagPhoto sets the flag from the body, or toggles it when there is none.
func (s *AppState) flagPhoto(c *gin.Context) {
	var in flagInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
	}
	r, err := s.SetFlag(c.Request.Context(), c.Param("id"), in.Flagged)
	if err != nil {
		log.Error().Err(err).Str("id", c.Param("id")).Msg("flag photo failed")
		c.JSON(editStatus(err), gin.H{"msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.view(r))
}

func (s *AppState) deletePhoto(c *gin.Context) {
	if err := s.DeletePhoto(c.Request.Context(), c.Param("id")); err != nil {
		log.Error().Err(err).Str("id", c.Param("id")).Msg("delete photo failed")
		c.JSON(editStatus(err), gin.H{"msg": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *AppState) getSelection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.views(s.selection.Snapshot())})
}

func (s *AppState) toggleSelection(c *gin.Context) {
	r, ok := s.find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"msg": "photo not found"})
		return
	}
	selected := s.selection.Toggle(r)
	c.JSON(http.StatusOK, gin.H{"selected": selected, "count": s.selection.Len()})
}

// selectAll acts on the photos matching the same filter query as
// listPhotos. Selecting all when all are selected clears the selection.
func (s *AppState) selectAll(c *gin.Context) {
	refs, err := s.visible(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	s.selection.SelectAll(refs)
	c.JSON(http.StatusOK, gin.H{"count": s.selection.Len()})
}

func (s *AppState) clearSelection(c *gin.Context) {
	s.selection.Clear()
	c.Status(http.StatusNoContent)
}

type timelapseInput struct {
	FPS             float64 `json:"fps"`
	SecondsPerImage float64 `json:"seconds_per_image"`
}

func (s *AppState) startTimelapse(c *gin.Context) {
	in := timelapseInput{FPS: s.cfg.FPS, SecondsPerImage: s.cfg.SecondsPerImage}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
	}

	n, err := s.StartRun(in.FPS, in.SecondsPerImage)
	switch {
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"msg": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"photos": n, "fps": in.FPS, "seconds_per_image": in.SecondsPerImage})
}

func (s *AppState) cancelTimelapse(c *gin.Context) {
	if !s.CancelRun() {
		c.JSON(http.StatusNotFound, gin.H{"msg": "no timelapse is running"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *AppState) getProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.Status())
}

func (s *AppState) downloadArtifact(c *gin.Context) {
	a := s.Artifact()
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"msg": "no timelapse has been built yet"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.FileName))
	c.Data(http.StatusOK, a.MIMEType, a.Data)
}
