package response

import "testing"

func TestNewMeta(t *testing.T) {
	tests := []struct {
		name                 string
		total, limit, offset int
		want                 Meta
	}{
		{"first page", 45, 20, 0, Meta{Total: 45, Page: 1, Limit: 20, Pages: 3, HasNext: true, HasPrev: false}},
		{"middle page", 45, 20, 20, Meta{Total: 45, Page: 2, Limit: 20, Pages: 3, HasNext: true, HasPrev: true}},
		{"last page", 45, 20, 40, Meta{Total: 45, Page: 3, Limit: 20, Pages: 3, HasNext: false, HasPrev: true}},
		{"empty", 0, 20, 0, Meta{Total: 0, Page: 1, Limit: 20, Pages: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMeta(tt.total, tt.limit, tt.offset); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
