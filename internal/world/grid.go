package world

import (
	"math"
	"sync"
)

// Cell addresses one bucket of the spatial grid.
type Cell struct {
	X, Z int
}

// Grid is a hashed uniform grid over the (x, z) plane. Queries hold a
// shared lock and may run concurrently with each other; mutations take the
// lock exclusively. Cells with no occupants are pruned, so memory stays
// proportional to the occupied area.
type Grid struct {
	cellSize float64

	mut        sync.RWMutex
	cells      map[Cell][]uint32
	peerToCell map[uint32]Cell
}

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 50.0
	}
	return &Grid{
		cellSize:   cellSize,
		cells:      make(map[Cell][]uint32),
		peerToCell: make(map[uint32]Cell),
	}
}

func (g *Grid) cellAt(x, z float64) Cell {
	return Cell{
		X: int(math.Floor(x / g.cellSize)),
		Z: int(math.Floor(z / g.cellSize)),
	}
}

func (g *Grid) Insert(peer uint32, x, z float64) {
	g.mut.Lock()
	defer g.mut.Unlock()

	cell := g.cellAt(x, z)
	g.cells[cell] = append(g.cells[cell], peer)
	g.peerToCell[peer] = cell
}

func (g *Grid) Remove(peer uint32) {
	g.mut.Lock()
	defer g.mut.Unlock()

	cell, ok := g.peerToCell[peer]
	if !ok {
		return
	}

	g.dropFromCell(cell, peer)
	delete(g.peerToCell, peer)
}

// Update moves peer to the cell covering (x, z). A no-op when the cell is
// unchanged or the peer was never inserted.
func (g *Grid) Update(peer uint32, x, z float64) {
	g.mut.Lock()
	defer g.mut.Unlock()

	oldCell, ok := g.peerToCell[peer]
	if !ok {
		return
	}

	newCell := g.cellAt(x, z)
	if newCell == oldCell {
		return
	}

	g.dropFromCell(oldCell, peer)
	g.cells[newCell] = append(g.cells[newCell], peer)
	g.peerToCell[peer] = newCell
}

// dropFromCell removes peer from a cell's occupant list and prunes the cell
// when it empties. Caller holds the write lock.
func (g *Grid) dropFromCell(cell Cell, peer uint32) {
	occupants := g.cells[cell]
	for i, id := range occupants {
		if id == peer {
			occupants[i] = occupants[len(occupants)-1]
			occupants = occupants[:len(occupants)-1]
			break
		}
	}

	if len(occupants) == 0 {
		delete(g.cells, cell)
	} else {
		g.cells[cell] = occupants
	}
}

// QueryRadius returns the peers in every cell intersecting the disk of
// radius r around (x, z). The result is cell-granular; callers needing the
// exact radius must distance-filter.
func (g *Grid) QueryRadius(x, z, r float64) []uint32 {
	g.mut.RLock()
	defer g.mut.RUnlock()

	cellRadius := int(math.Ceil(r / g.cellSize))
	center := g.cellAt(x, z)

	var result []uint32
	for dx := -cellRadius; dx <= cellRadius; dx++ {
		for dz := -cellRadius; dz <= cellRadius; dz++ {
			cell := Cell{X: center.X + dx, Z: center.Z + dz}
			result = append(result, g.cells[cell]...)
		}
	}

	return result
}

// QueryArea returns the peers in every cell overlapping the axis-aligned
// box [minX, maxX] × [minZ, maxZ], cell-granular.
func (g *Grid) QueryArea(minX, minZ, maxX, maxZ float64) []uint32 {
	g.mut.RLock()
	defer g.mut.RUnlock()

	minCell := g.cellAt(minX, minZ)
	maxCell := g.cellAt(maxX, maxZ)

	var result []uint32
	for cx := minCell.X; cx <= maxCell.X; cx++ {
		for cz := minCell.Z; cz <= maxCell.Z; cz++ {
			result = append(result, g.cells[Cell{X: cx, Z: cz}]...)
		}
	}

	return result
}

// CellOf returns the cell currently holding peer.
func (g *Grid) CellOf(peer uint32) (Cell, bool) {
	g.mut.RLock()
	defer g.mut.RUnlock()

	cell, ok := g.peerToCell[peer]
	return cell, ok
}

// CellCount reports the number of occupied cells.
func (g *Grid) CellCount() int {
	g.mut.RLock()
	defer g.mut.RUnlock()

	return len(g.cells)
}
