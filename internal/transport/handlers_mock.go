package transport

import (
	"context"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/gin-gonic/gin"
)

type mockUploadGateway struct {
	requestUploadFn func(ctx context.Context, key string, req model.GrantRequest) (*model.UploadGrant, error)
}

func (m *mockUploadGateway) RequestUpload(ctx context.Context, key string, req model.GrantRequest) (*model.UploadGrant, error) {
	return m.requestUploadFn(ctx, key, req)
}

type mockCatalogLister struct {
	listFn func(ctx context.Context) ([]model.ListedImage, error)
}

func (m *mockCatalogLister) List(ctx context.Context) ([]model.ListedImage, error) {
	return m.listFn(ctx)
}

func init() {
	gin.SetMode(gin.TestMode)
}
