package media

import (
	"context"
	"encoding/base64"
)

// DataURILinker inlines blobs as base64 data: URIs. It suits one-shot
// rendering where no server is around to dereference handles.
type DataURILinker struct{}

// Link loads b and encodes it.
func (DataURILinker) Link(ctx context.Context, b Blob) (string, error) {
	data, err := b.Load(ctx)
	if err != nil {
		return "", err
	}
	return "data:" + contentType(b.Path, data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
