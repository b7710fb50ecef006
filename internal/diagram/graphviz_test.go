package diagram

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func TestRenderImageLinear(t *testing.T) {
	model, err := Build(linearDefinition(t), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)

	// PNG magic bytes: 0x89 P N G.
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageNestedWithStatus(t *testing.T) {
	records := map[string]*store.ActivityRecord{
		"decide": {Status: schema.ActivityStatusCompleted},
		"b1":     {Status: schema.ActivityStatusRunning},
	}
	model, err := Build(branchingDefinition(t), records)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), png[0])
}

func TestRenderImageSVG(t *testing.T) {
	model, err := Build(flowchartDefinition(t), nil)
	require.NoError(t, err)

	svg, err := RenderImageFormat(context.Background(), model, ImageSVG)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(svg, []byte("<svg")))
}

func TestRenderImageUnsupportedFormat(t *testing.T) {
	model, err := Build(linearDefinition(t), nil)
	require.NoError(t, err)

	_, err = RenderImageFormat(context.Background(), model, ImageFormat("gif"))
	assert.Error(t, err)
}
