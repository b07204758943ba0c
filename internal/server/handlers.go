package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mwantia/goattach/internal/attachments"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/storage"
)

// Draft actions bound on entity instances.
const (
	ActionDraftEdit     = "draftEdit"
	ActionDraftActivate = "draftActivate"
	ActionDraftDiscard  = "draftDiscard"
	ActionRescan        = "rescan"
	PropertyContent     = schema.ContentProperty
)

func (s *Server) odata(c *gin.Context) {
	target, err := s.model.Resolve(c.Param("path"))
	if err != nil {
		s.abort(c, attachments.NewValidationError(http.StatusNotFound, attachments.CodeInvalidRequest, err.Error(), nil))
		return
	}

	if raw := c.Query("draft"); raw != "" {
		draft, err := strconv.ParseBool(raw)
		if err != nil {
			s.abort(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
				fmt.Sprintf("invalid draft flag '%s'", raw), nil))
			return
		}
		target.Draft = draft
	}

	method := c.Request.Method
	switch {
	case target.Property == PropertyContent && target.Item:
		switch method {
		case http.MethodGet:
			s.getContent(c, target)
		case http.MethodPut:
			s.putContent(c, target)
		case http.MethodDelete:
			s.deleteContent(c, target)
		default:
			s.methodNotAllowed(c, target)
		}

	case target.Property != "":
		if method != http.MethodPost {
			s.methodNotAllowed(c, target)
			return
		}
		s.action(c, target)

	case target.Entity.HoldsContent() && target.Item:
		switch method {
		case http.MethodGet:
			s.getMetadata(c, target)
		case http.MethodPatch:
			s.patchMetadata(c, target)
		case http.MethodDelete:
			s.deleteAttachment(c, target)
		default:
			s.methodNotAllowed(c, target)
		}

	case target.Entity.HoldsContent():
		switch method {
		case http.MethodGet:
			s.list(c, target)
		case http.MethodPost:
			s.create(c, target)
		default:
			s.methodNotAllowed(c, target)
		}

	case target.Item:
		switch method {
		case http.MethodPatch:
			s.deepUpdate(c, target)
		case http.MethodDelete:
			s.deleteParent(c, target)
		default:
			s.methodNotAllowed(c, target)
		}

	default:
		s.methodNotAllowed(c, target)
	}
}

func (s *Server) list(c *gin.Context, target schema.Target) {
	rows, err := s.service.List(c.Request.Context(), target)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": viewsOf(rows)})
}

func (s *Server) create(c *gin.Context, target schema.Target) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abort(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err), nil))
		return
	}

	rec := attachments.Record{UpKeys: schema.Keys{}}
	for field, value := range body {
		text := fmt.Sprint(value)
		switch {
		case field == "ID":
			rec.ID = text
		case field == "filename":
			rec.Filename = text
		case field == "mimeType":
			rec.MimeType = text
		case field == "note":
			rec.Note = text
		case strings.HasPrefix(field, schema.UpPrefix):
			rec.UpKeys[field] = text
		}
	}
	if rec.Filename == "" {
		s.abort(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
			"filename is required", nil))
		return
	}

	row, err := s.service.Create(c.Request.Context(), target, rec)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(row))
}

func (s *Server) getMetadata(c *gin.Context, target schema.Target) {
	row, err := s.service.Metadata(c.Request.Context(), target)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(row))
}

func (s *Server) patchMetadata(c *gin.Context, target schema.Target) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		s.abort(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err), nil))
		return
	}

	row, err := s.service.Update(c.Request.Context(), target, fields)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(row))
}

func (s *Server) deleteAttachment(c *gin.Context, target schema.Target) {
	if err := s.service.Delete(c.Request.Context(), target); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// putContent validates the declared size and type before a single byte of
// the body is read. Rejected requests close the connection instead of
// draining the body.
func (s *Server) putContent(c *gin.Context, target schema.Target) {
	header := c.GetHeader("Content-Length")
	if header == "" && c.Request.ContentLength > 0 {
		header = strconv.FormatInt(c.Request.ContentLength, 10)
	}

	size, err := attachments.ValidateContentLength(target.Entity, header)
	if err != nil {
		s.reject(c, err)
		return
	}

	mimeType := c.ContentType()
	if mimeType == "" {
		s.reject(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
			"Content-Type header is required", nil))
		return
	}
	if err := attachments.ValidateMimeType(target.Entity, mimeType); err != nil {
		s.reject(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.service.Metadata(ctx, target); err != nil {
		if attachments.StatusOf(err) != http.StatusNotFound {
			s.reject(c, err)
			return
		}

		filename := c.Query("filename")
		if filename == "" {
			filename = target.ID()
		}
		rec := attachments.Record{
			ID:       target.ID(),
			Filename: filename,
			MimeType: mimeType,
			Content:  c.Request.Body,
			Size:     size,
		}
		if _, err := s.service.Create(ctx, target, rec); err != nil {
			s.reject(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	if _, err := s.service.PutContent(ctx, target, c.Request.Body, size); err != nil {
		s.reject(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getContent(c *gin.Context, target schema.Target) {
	ctx := c.Request.Context()
	if err := s.service.CheckReadable(ctx, target); err != nil {
		s.abort(c, err)
		return
	}

	content, err := s.service.Get(ctx, target)
	if err != nil {
		s.abort(c, err)
		return
	}
	if content == nil {
		s.abort(c, attachments.NewNotFoundError(target.ID()))
		return
	}
	defer content.Body.Close()

	c.DataFromReader(http.StatusOK, -1, content.Attachment.MimeType, content.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", content.Attachment.Filename),
	})
}

func (s *Server) deleteContent(c *gin.Context, target schema.Target) {
	if err := s.service.DeleteContent(c.Request.Context(), target); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deepUpdate(c *gin.Context, target schema.Target) {
	var node schema.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		s.abort(c, attachments.NewValidationError(http.StatusBadRequest, attachments.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err), nil))
		return
	}

	removed, err := s.service.UpdateParent(c.Request.Context(), target, node)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) deleteParent(c *gin.Context, target schema.Target) {
	if err := s.service.DeleteParent(c.Request.Context(), target); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) action(c *gin.Context, target schema.Target) {
	ctx := c.Request.Context()
	parent := target
	parent.Property = ""

	switch target.Property {
	case ActionDraftEdit:
		copied, err := s.service.EditDraft(ctx, parent)
		if err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"copied": copied})

	case ActionDraftActivate:
		parent.Draft = true
		if err := s.service.SaveDraft(ctx, parent); err != nil {
			s.abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case ActionDraftDiscard:
		parent.Draft = true
		if err := s.service.DiscardDraft(ctx, parent); err != nil {
			s.abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case ActionRescan:
		if err := s.service.Rescan(ctx, parent); err != nil {
			s.abort(c, err)
			return
		}
		c.Status(http.StatusAccepted)

	default:
		s.abort(c, attachments.NewValidationError(http.StatusNotFound, attachments.CodeInvalidRequest,
			fmt.Sprintf("unknown action '%s' on '%s'", target.Property, target.Entity.Name), nil))
	}
}

func (s *Server) methodNotAllowed(c *gin.Context, target schema.Target) {
	s.abort(c, attachments.NewValidationError(http.StatusMethodNotAllowed, attachments.CodeInvalidRequest,
		fmt.Sprintf("%s is not supported on '%s'", c.Request.Method, target), nil))
}

// reject aborts a content upload. The body was not consumed, so the
// connection is closed rather than drained.
func (s *Server) reject(c *gin.Context, err error) {
	c.Header("Connection", "close")
	s.abort(c, err)
}

// abort renders err as the error response of the request.
func (s *Server) abort(c *gin.Context, err error) {
	var aerr *attachments.Error
	switch {
	case errors.As(err, &aerr):
		if aerr.Status == http.StatusNoContent {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.AbortWithStatusJSON(aerr.Status, gin.H{"error": aerr})

	case errors.Is(err, storage.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    attachments.CodeNotFound,
			"message": err.Error(),
		}})

	default:
		s.log.Error("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    "InternalError",
			"message": "the request could not be completed, see server logs for details",
		}})
	}
}
