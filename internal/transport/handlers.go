// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/wb-go/wbf/ginext"
)

type IntakeHandler struct {
	grants  UploadGateway
	listing CatalogLister
}

// UploadGateway - выдача грантов на загрузку
type UploadGateway interface {
	RequestUpload(ctx context.Context, key string, req model.GrantRequest) (*model.UploadGrant, error)
}

// CatalogLister - выдача списка картинок со ссылками
type CatalogLister interface {
	List(ctx context.Context) ([]model.ListedImage, error)
}

func NewIntakeHandler(grants UploadGateway, listing CatalogLister) *IntakeHandler {
	return &IntakeHandler{
		grants:  grants,
		listing: listing,
	}
}

func (h IntakeHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

// RequestGrant hands out a presigned upload URL for a free key.
// The key comes from the path so names with slashes keep working.
func (h IntakeHandler) RequestGrant(ctx *ginext.Context) {
	key := strings.TrimPrefix(ctx.Param("key"), "/")

	var req model.GrantRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(400, map[string]string{"error": "failed to parse grant request body"})
		return
	}

	res, err := h.grants.RequestUpload(ctx.Request.Context(), key, req)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(201, res)
}

func (h IntakeHandler) ListImages(ctx *ginext.Context) {
	res, err := h.listing.List(ctx.Request.Context())
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}
