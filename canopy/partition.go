package canopy

import (
	"iter"
)

// TileSpec holds the tiling parameters in pixels: the core tile size and
// the buffer added on every interior side.
type TileSpec struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	Buffer int `yaml:"buffer" json:"buffer"`
}

// Validate checks the tiling parameters before any raster work is done.
func (s TileSpec) Validate() error {
	if s.Width <= 0 {
		return &ConfigError{Field: "tile width", Reason: "must be > 0"}
	}
	if s.Height <= 0 {
		return &ConfigError{Field: "tile height", Reason: "must be > 0"}
	}
	if s.Buffer < 0 {
		return &ConfigError{Field: "buffer", Reason: "must be >= 0"}
	}
	if 2*s.Buffer >= min(s.Width, s.Height) {
		return &ConfigError{Field: "buffer", Reason: "must be smaller than half the tile size"}
	}
	return nil
}

// Partitioner cuts a raster of a given size into overlapping tiles in
// row-major order.
type Partitioner struct {
	width, height int
	spec          TileSpec
	parent        AffineMatrix
	cols, rows    int
}

// NewPartitioner validates spec and prepares the tile grid of a
// width x height raster whose pixel->geo mapping is parent.
func NewPartitioner(width, height int, spec TileSpec, parent AffineMatrix) (*Partitioner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, &ConfigError{Field: "raster size", Reason: "must be non-empty"}
	}
	return &Partitioner{
		width:  width,
		height: height,
		spec:   spec,
		parent: parent,
		cols:   (width + spec.Width - 1) / spec.Width,
		rows:   (height + spec.Height - 1) / spec.Height,
	}, nil
}

// Grid returns the number of tile columns and rows.
func (p *Partitioner) Grid() (cols, rows int) {
	return p.cols, p.rows
}

// Len returns the number of tiles.
func (p *Partitioner) Len() int {
	return p.cols * p.rows
}

// Tiles yields every tile in row-major order. Each call starts over.
func (p *Partitioner) Tiles() iter.Seq[TileWindow] {
	return func(yield func(TileWindow) bool) {
		for id := 0; id < p.Len(); id++ {
			tile, ok := p.Tile(id)
			if !ok {
				continue
			}
			if !yield(tile) {
				return
			}
		}
	}
}

// Tile returns the tile with the given row-major id. The bool is false when
// the id is out of range or the tile's core would be empty.
func (p *Partitioner) Tile(id int) (TileWindow, bool) {
	if id < 0 || id >= p.Len() {
		return TileWindow{}, false
	}
	gridRow, gridCol := id/p.cols, id%p.cols

	core := Window{
		ColOff: gridCol * p.spec.Width,
		RowOff: gridRow * p.spec.Height,
	}
	core.Width = min(p.spec.Width, p.width-core.ColOff)
	core.Height = min(p.spec.Height, p.height-core.RowOff)
	if core.Empty() {
		return TileWindow{}, false
	}

	// Grow by the buffer on interior sides only; raster edges clip.
	left := max(core.ColOff-p.spec.Buffer, 0)
	top := max(core.RowOff-p.spec.Buffer, 0)
	right := min(core.ColOff+core.Width+p.spec.Buffer, p.width)
	bottom := min(core.RowOff+core.Height+p.spec.Buffer, p.height)
	bounds := Window{ColOff: left, RowOff: top, Width: right - left, Height: bottom - top}

	return TileWindow{
		ID:        id,
		GridRow:   gridRow,
		GridCol:   gridCol,
		Bounds:    bounds,
		Core:      core,
		Buffer:    p.spec.Buffer,
		Transform: p.parent.Offset(bounds.ColOff, bounds.RowOff),
		Neighbors: p.neighbors(gridRow, gridCol),
	}, true
}

// neighbors returns the ids of the 8-neighbourhood of a grid cell.
func (p *Partitioner) neighbors(gridRow, gridCol int) []int {
	var ids []int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			r, c := gridRow+dr, gridCol+dc
			if r < 0 || r >= p.rows || c < 0 || c >= p.cols {
				continue
			}
			ids = append(ids, r*p.cols+c)
		}
	}
	return ids
}
