package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

func init() {
	_ = logger.InitLogger(true)
}

func testGeometry() geometry.Geometry {
	fcc, _ := geometry.ParseFourCC("XR24")
	return geometry.Geometry{
		Width:     640,
		Height:    480,
		Stride:    2560,
		SizeBytes: 2560 * 480,
		Format:    fcc,
	}
}

// fakeAllocator registra a ordem das operações para verificar a simetria de
// alocação/liberação.
type fakeAllocator struct {
	ops *[]string

	allocs  int
	exports int
	closes  int
	frees   int

	failAllocAt  int
	failExportAt int
}

func newFakeAllocator(ops *[]string) *fakeAllocator {
	return &fakeAllocator{ops: ops, failAllocAt: -1, failExportAt: -1}
}

func (a *fakeAllocator) Allocate(_ geometry.Geometry) (pipeline.AllocationID, error) {
	if a.failAllocAt >= 0 && a.allocs == a.failAllocAt {
		return 0, errors.New("sem memória de dispositivo")
	}
	a.allocs++
	*a.ops = append(*a.ops, "alloc")
	return pipeline.AllocationID(a.allocs), nil
}

func (a *fakeAllocator) ExportHandle(id pipeline.AllocationID) (pipeline.BufferHandle, error) {
	if a.failExportAt >= 0 && a.exports == a.failExportAt {
		return 0, errors.New("export falhou")
	}
	a.exports++
	*a.ops = append(*a.ops, "export")
	return pipeline.BufferHandle(100 + int(id)), nil
}

func (a *fakeAllocator) CloseHandle(_ pipeline.BufferHandle) error {
	a.closes++
	*a.ops = append(*a.ops, "close")
	return nil
}

func (a *fakeAllocator) Free(_ pipeline.AllocationID) error {
	a.frees++
	*a.ops = append(*a.ops, "free")
	return nil
}

type fakeDisplay struct {
	ops *[]string

	describes int
	releases  int

	failDescribeAt int
}

func newFakeDisplay(ops *[]string) *fakeDisplay {
	return &fakeDisplay{ops: ops, failDescribeAt: -1}
}

func (d *fakeDisplay) ListOutputs() ([]pipeline.Output, error) { return nil, nil }
func (d *fakeDisplay) ListPlanes() ([]pipeline.Plane, error)   { return nil, nil }

func (d *fakeDisplay) DescribeSurface(_ pipeline.BufferHandle, _ geometry.Geometry, _ geometry.FourCC) (pipeline.SurfaceID, error) {
	if d.failDescribeAt >= 0 && d.describes == d.failDescribeAt {
		return 0, errors.New("registro de superfície rejeitado")
	}
	d.describes++
	*d.ops = append(*d.ops, "describe")
	return pipeline.SurfaceID(200 + d.describes), nil
}

func (d *fakeDisplay) ReleaseSurface(_ pipeline.SurfaceID) error {
	d.releases++
	*d.ops = append(*d.ops, "release")
	return nil
}

func (d *fakeDisplay) Present(_ pipeline.SurfaceID, _ pipeline.Target, _, _ geometry.Rect) error {
	return nil
}
func (d *fakeDisplay) ReadEvents() error { return nil }
func (d *fakeDisplay) Fd() int           { return -1 }
func (d *fakeDisplay) Close() error      { return nil }

type fakeProducer struct {
	granted    int
	registered []pipeline.BufferHandle
	submitted  []pipeline.SlotID
	failSubmit bool
}

func (p *fakeProducer) QueryGeometry() (geometry.Geometry, error) { return testGeometry(), nil }
func (p *fakeProducer) SetGeometry(g geometry.Geometry) (geometry.Geometry, error) {
	return g, nil
}

func (p *fakeProducer) RequestSlots(count int) (int, error) {
	if p.granted > 0 && p.granted < count {
		return p.granted, nil
	}
	return count, nil
}

func (p *fakeProducer) RegisterBuffer(h pipeline.BufferHandle) (pipeline.SlotID, error) {
	p.registered = append(p.registered, h)
	return pipeline.SlotID(len(p.registered) - 1), nil
}

func (p *fakeProducer) Submit(slot pipeline.SlotID) error {
	if p.failSubmit {
		return errors.New("submit falhou")
	}
	p.submitted = append(p.submitted, slot)
	return nil
}

func (p *fakeProducer) Collect() (pipeline.SlotID, error) { return 0, nil }
func (p *fakeProducer) StreamOn() error                   { return nil }
func (p *fakeProducer) StreamOff() error                  { return nil }
func (p *fakeProducer) Fd() int                           { return -1 }
func (p *fakeProducer) Close() error                      { return nil }

func TestNewPoolRejectsSingleBuffer(t *testing.T) {
	var ops []string
	_, err := NewPool(newFakeAllocator(&ops), newFakeDisplay(&ops), 1, testGeometry())
	assert.Error(t, err)
	assert.Empty(t, ops, "nenhuma alocação deve acontecer com count inválido")
}

func TestNewPoolCreatesAll(t *testing.T) {
	var ops []string
	alloc := newFakeAllocator(&ops)
	display := newFakeDisplay(&ops)

	pool, err := NewPool(alloc, display, 3, testGeometry())
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Len())
	assert.Equal(t, 3, alloc.allocs)
	assert.Equal(t, 3, alloc.exports)
	assert.Equal(t, 3, display.describes)

	for i := 0; i < 3; i++ {
		b := pool.Get(i)
		require.NotNil(t, b)
		assert.Equal(t, StateFree, b.State())
		assert.NotZero(t, b.SurfaceID)
	}
}

func TestNewPoolRollbackOnAllocFailure(t *testing.T) {
	var ops []string
	alloc := newFakeAllocator(&ops)
	alloc.failAllocAt = 2 // terceiro buffer falha
	display := newFakeDisplay(&ops)

	pool, err := NewPool(alloc, display, 3, testGeometry())
	assert.Nil(t, pool)

	var allocErr *pipeline.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, 2, allocErr.Index)

	// Simetria: tudo que foi criado foi desfeito.
	assert.Equal(t, alloc.allocs, alloc.frees)
	assert.Equal(t, alloc.exports, alloc.closes)
	assert.Equal(t, display.describes, display.releases)
	assert.Equal(t, 2, alloc.frees)
}

func TestNewPoolRollbackOnDescribeFailure(t *testing.T) {
	var ops []string
	alloc := newFakeAllocator(&ops)
	display := newFakeDisplay(&ops)
	display.failDescribeAt = 1 // segundo registro falha

	pool, err := NewPool(alloc, display, 2, testGeometry())
	assert.Nil(t, pool)

	var allocErr *pipeline.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, 1, allocErr.Index)

	// O buffer que falhou no describe libera handle e alocação na hora.
	assert.Equal(t, alloc.allocs, alloc.frees)
	assert.Equal(t, alloc.exports, alloc.closes)
	assert.Equal(t, display.describes, display.releases)
}

func TestRegisterAll(t *testing.T) {
	var ops []string
	pool, err := NewPool(newFakeAllocator(&ops), newFakeDisplay(&ops), 2, testGeometry())
	require.NoError(t, err)

	prod := &fakeProducer{}
	require.NoError(t, pool.RegisterAll(prod))

	assert.Len(t, prod.registered, 2)
	assert.Equal(t, pipeline.SlotID(0), pool.Get(0).Slot)
	assert.Equal(t, pipeline.SlotID(1), pool.Get(1).Slot)
	assert.Same(t, pool.Get(1), pool.BySlot(1))
}

func TestRegisterAllSlotShortfall(t *testing.T) {
	var ops []string
	pool, err := NewPool(newFakeAllocator(&ops), newFakeDisplay(&ops), 3, testGeometry())
	require.NoError(t, err)

	prod := &fakeProducer{granted: 2}
	err = pool.RegisterAll(prod)

	var allocErr *pipeline.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, 2, allocErr.Index)
}

func TestQueueAll(t *testing.T) {
	var ops []string
	pool, err := NewPool(newFakeAllocator(&ops), newFakeDisplay(&ops), 2, testGeometry())
	require.NoError(t, err)

	prod := &fakeProducer{}
	require.NoError(t, pool.RegisterAll(prod))
	require.NoError(t, pool.QueueAll(prod))

	assert.Equal(t, []pipeline.SlotID{0, 1}, prod.submitted)
	assert.Equal(t, 2, pool.CountState(StateQueuedToProducer))
	assert.Equal(t, 0, pool.CountState(StateFree))
}

func TestDestroyReleaseOrder(t *testing.T) {
	var ops []string
	alloc := newFakeAllocator(&ops)
	display := newFakeDisplay(&ops)

	pool, err := NewPool(alloc, display, 2, testGeometry())
	require.NoError(t, err)

	ops = ops[:0]
	pool.Destroy()

	// Fases na ordem do contrato: superfícies, handles, alocações.
	assert.Equal(t, []string{"release", "release", "close", "close", "free", "free"}, ops)
	assert.Equal(t, 0, pool.Len())
}

func TestStateTransitions(t *testing.T) {
	b := &SharedBuffer{Index: 0}

	// Ciclo completo válido.
	assert.NoError(t, b.MarkQueued())
	assert.NoError(t, b.MarkCollected())
	assert.NoError(t, b.MarkPresenting())
	assert.NoError(t, b.MarkSuperseded())
	assert.Equal(t, StateFree, b.State())

	// Um buffer livre não pode pular direto para apresentação.
	assert.Error(t, b.MarkPresenting())
	assert.Error(t, b.MarkCollected())

	// Um buffer apresentado nunca pode ser enfileirado para escrita.
	_ = b.MarkQueued()
	_ = b.MarkCollected()
	_ = b.MarkPresenting()
	assert.Error(t, b.MarkQueued())
}

func TestPoolStats(t *testing.T) {
	var ops []string
	pool, err := NewPool(newFakeAllocator(&ops), newFakeDisplay(&ops), 2, testGeometry())
	require.NoError(t, err)

	prod := &fakeProducer{}
	require.NoError(t, pool.RegisterAll(prod))
	require.NoError(t, pool.QueueAll(prod))

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 2, stats.Queued)
	assert.Contains(t, stats.String(), "queued: 2")
}
