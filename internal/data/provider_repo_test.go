package data

import (
	"testing"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/data/model"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestDecodeCapabilities(t *testing.T) {
	tests := []struct {
		name string
		meta datatypes.JSONMap
		want biz.ProviderCapabilities
	}{
		{
			name: "arrays",
			meta: datatypes.JSONMap{
				"service_types":   []interface{}{"likes", "followers"},
				"services":        []interface{}{"instagram"},
				"primary_service": "instagram",
				"priority":        float64(2),
				"recommended_for": []interface{}{"reels"},
			},
			want: biz.ProviderCapabilities{
				ServiceTypes:   []string{"likes", "followers"},
				Services:       []string{"instagram"},
				PrimaryService: "instagram",
				Priority:       2,
				RecommendedFor: []string{"reels"},
			},
		},
		{
			name: "comma separated and string priority",
			meta: datatypes.JSONMap{"service_types": "likes, views", "priority": "7"},
			want: biz.ProviderCapabilities{ServiceTypes: []string{"likes", "views"}, Priority: 7},
		},
		{
			name: "empty",
			meta: nil,
			want: biz.ProviderCapabilities{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeCapabilities(tt.meta))
		})
	}
}

func TestProviderToBizAndCache(t *testing.T) {
	m := &model.Provider{
		ProviderID: "p1",
		Name:       "Panel",
		APIKey:     "k",
		APIURL:     "https://panel/api/v2",
		Status:     model.ProviderStatusActive,
		Metadata:   datatypes.JSONMap{"service_types": []interface{}{"likes"}, "priority": float64(1)},
	}
	p := providerToBiz(m)
	assert.True(t, p.Active)
	assert.Equal(t, 1, p.Capabilities.Priority)

	cached := toCached(p)
	assert.Equal(t, p, cached.toBiz())

	m.Status = model.ProviderStatusInactive
	assert.False(t, providerToBiz(m).Active)
}
