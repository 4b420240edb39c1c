package netatmo

import (
	"math"
	"reflect"
	"testing"
)

func TestTile(t *testing.T) {
	region := Region{
		North:          52.51,
		South:          52.34,
		West:           -2.09,
		East:           -1.82,
		MaxWindowWidth: 0.1,
	}

	expected := []Window{
		{North: 52.44, South: 52.34, West: -2.09, East: -1.99},
		{North: 52.44, South: 52.34, West: -1.99, East: -1.89},
		{North: 52.44, South: 52.34, West: -1.89, East: -1.82},
		{North: 52.51, South: 52.44, West: -2.09, East: -1.99},
		{North: 52.51, South: 52.44, West: -1.99, East: -1.89},
		{North: 52.51, South: 52.44, West: -1.89, East: -1.82},
	}

	windows := Tile(region)
	if !reflect.DeepEqual(windows, expected) {
		t.Fatalf("expected %+v, got %+v", expected, windows)
	}
}

// TestTileCoversRegion checks, for spans the window width does not evenly
// divide, that adjacent windows share edges exactly and the region's outer
// bounds are hit, i.e. no gaps, no overlaps, nothing untiled.
func TestTileCoversRegion(t *testing.T) {
	region := Region{
		North:          10.35,
		South:          10.0,
		West:           20.0,
		East:           20.25,
		MaxWindowWidth: 0.1,
	}

	windows := Tile(region)
	if len(windows) == 0 {
		t.Fatal("expected at least one window")
	}

	// 4 latitude rows (last narrower) x 3 longitude columns (last narrower).
	if len(windows) != 12 {
		t.Fatalf("expected 12 windows, got %d", len(windows))
	}

	for _, w := range windows {
		if w.North <= w.South || w.East <= w.West {
			t.Fatalf("degenerate window %+v", w)
		}
		if width := w.North - w.South; width > region.MaxWindowWidth+1e-9 {
			t.Fatalf("window %+v taller than the max width", w)
		}
		if width := w.East - w.West; width > region.MaxWindowWidth+1e-9 {
			t.Fatalf("window %+v wider than the max width", w)
		}
	}

	first := windows[0]
	last := windows[len(windows)-1]
	if first.South != region.South || first.West != region.West {
		t.Fatalf("first window %+v does not start at the region's south-west corner", first)
	}
	if last.North != region.North || last.East != region.East {
		t.Fatalf("last window %+v does not end at the region's north-east corner", last)
	}

	// Every window's edges must butt up against a neighbour or the region
	// boundary; summing areas catches both gaps and overlaps.
	var area float64
	for _, w := range windows {
		area += (w.North - w.South) * (w.East - w.West)
	}
	regionArea := (region.North - region.South) * (region.East - region.West)
	if math.Abs(area-regionArea) > 1e-9 {
		t.Fatalf("window areas sum to %v, region area is %v", area, regionArea)
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{North: 52.44, South: 52.34, West: -2.09, East: -1.99}

	if !w.Contains(52.39, -2.0) {
		t.Error("expected an interior point to be contained")
	}
	if !w.Contains(52.44, -1.99) {
		t.Error("expected an edge point to be contained")
	}
	if w.Contains(52.45, -2.0) {
		t.Error("expected a point north of the window to be excluded")
	}
	if w.Contains(52.39, -1.98) {
		t.Error("expected a point east of the window to be excluded")
	}
}
