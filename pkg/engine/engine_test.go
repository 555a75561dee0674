package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/T3-Labs/edge-display/pkg/buffer"
	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

func init() {
	_ = logger.InitLogger(true)
}

func testGeometry() geometry.Geometry {
	fcc, _ := geometry.ParseFourCC("XR24")
	return geometry.Geometry{Width: 640, Height: 480, Stride: 2560, SizeBytes: 2560 * 480, Format: fcc}
}

// fakeSource entrega uma sequência pré-definida de eventos e depois timeout.
type fakeSource struct {
	events []Event
}

func (s *fakeSource) Wait(time.Duration) (Event, error) {
	if len(s.events) == 0 {
		return EventTimeout, nil
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func ready(n int) []Event {
	evs := make([]Event, n)
	for i := range evs {
		evs[i] = EventProducerReady
	}
	return evs
}

// scriptedProducer simula um produtor em cadência constante: devolve os
// slots na ordem em que foram enfileirados (FIFO), como um driver real.
type scriptedProducer struct {
	queue     []pipeline.SlotID
	submitted []pipeline.SlotID
	registered int
	collects  int

	failCollectAt int // falha quando collects == failCollectAt; -1 desativa
}

func newScriptedProducer() *scriptedProducer {
	return &scriptedProducer{failCollectAt: -1}
}

func (p *scriptedProducer) QueryGeometry() (geometry.Geometry, error) { return testGeometry(), nil }
func (p *scriptedProducer) SetGeometry(g geometry.Geometry) (geometry.Geometry, error) {
	return g, nil
}
func (p *scriptedProducer) RequestSlots(count int) (int, error) { return count, nil }

func (p *scriptedProducer) RegisterBuffer(pipeline.BufferHandle) (pipeline.SlotID, error) {
	slot := pipeline.SlotID(p.registered)
	p.registered++
	return slot, nil
}

func (p *scriptedProducer) Submit(slot pipeline.SlotID) error {
	p.queue = append(p.queue, slot)
	p.submitted = append(p.submitted, slot)
	return nil
}

func (p *scriptedProducer) Collect() (pipeline.SlotID, error) {
	if p.failCollectAt >= 0 && p.collects == p.failCollectAt {
		return 0, errors.New("produtor em estado irrecuperável")
	}
	if len(p.queue) == 0 {
		return 0, errors.New("nenhum slot enfileirado")
	}
	p.collects++
	slot := p.queue[0]
	p.queue = p.queue[1:]
	return slot, nil
}

func (p *scriptedProducer) StreamOn() error  { return nil }
func (p *scriptedProducer) StreamOff() error { return nil }
func (p *scriptedProducer) Fd() int          { return -1 }
func (p *scriptedProducer) Close() error     { return nil }

// countingAllocator só contabiliza, para verificar simetria no teardown.
type countingAllocator struct {
	allocs, exports, closes, frees int
}

func (a *countingAllocator) Allocate(geometry.Geometry) (pipeline.AllocationID, error) {
	a.allocs++
	return pipeline.AllocationID(a.allocs), nil
}
func (a *countingAllocator) ExportHandle(id pipeline.AllocationID) (pipeline.BufferHandle, error) {
	a.exports++
	return pipeline.BufferHandle(100 + int(id)), nil
}
func (a *countingAllocator) CloseHandle(pipeline.BufferHandle) error { a.closes++; return nil }
func (a *countingAllocator) Free(pipeline.AllocationID) error        { a.frees++; return nil }

type recordingDisplay struct {
	surfaces  int
	released  int
	presented []pipeline.SurfaceID
	events    int

	failPresentAt int // -1 desativa
	onPresent     func()
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{failPresentAt: -1}
}

func (d *recordingDisplay) ListOutputs() ([]pipeline.Output, error) { return nil, nil }
func (d *recordingDisplay) ListPlanes() ([]pipeline.Plane, error)   { return nil, nil }

func (d *recordingDisplay) DescribeSurface(pipeline.BufferHandle, geometry.Geometry, geometry.FourCC) (pipeline.SurfaceID, error) {
	d.surfaces++
	return pipeline.SurfaceID(200 + d.surfaces), nil
}

func (d *recordingDisplay) ReleaseSurface(pipeline.SurfaceID) error { d.released++; return nil }

func (d *recordingDisplay) Present(id pipeline.SurfaceID, _ pipeline.Target, _, _ geometry.Rect) error {
	if d.failPresentAt >= 0 && len(d.presented) == d.failPresentAt {
		return errors.New("apresentação rejeitada")
	}
	if d.onPresent != nil {
		d.onPresent()
	}
	d.presented = append(d.presented, id)
	return nil
}

func (d *recordingDisplay) ReadEvents() error { d.events++; return nil }
func (d *recordingDisplay) Fd() int           { return -1 }
func (d *recordingDisplay) Close() error      { return nil }

// presentedIndices converte os SurfaceIDs apresentados de volta para índices
// de buffer (os ids são atribuídos em ordem de criação: buffer i -> 201+i).
func presentedIndices(d *recordingDisplay) []int {
	out := make([]int, len(d.presented))
	for i, s := range d.presented {
		out[i] = int(s) - 201
	}
	return out
}

type session struct {
	pool    *buffer.Pool
	prod    *scriptedProducer
	display *recordingDisplay
	alloc   *countingAllocator
}

func newSession(t *testing.T, bufferCount int) *session {
	t.Helper()

	alloc := &countingAllocator{}
	display := newRecordingDisplay()
	pool, err := buffer.NewPool(alloc, display, bufferCount, testGeometry())
	require.NoError(t, err)

	prod := newScriptedProducer()
	require.NoError(t, pool.RegisterAll(prod))
	require.NoError(t, pool.QueueAll(prod))

	return &session{pool: pool, prod: prod, display: display, alloc: alloc}
}

func (s *session) run(t *testing.T, events []Event) error {
	t.Helper()
	eng := New(s.prod, s.display, s.pool, &fakeSource{events: events}, Config{
		VideoDevice: "/dev/video-test",
		IdleTimeout: 100 * time.Millisecond,
	})
	return eng.Run(context.Background())
}

func TestDoubleBufferAlternation(t *testing.T) {
	s := newSession(t, 2)

	err := s.run(t, ready(6))
	require.NoError(t, err) // sai por timeout de inatividade

	assert.Equal(t, []int{0, 1, 0, 1, 0, 1}, presentedIndices(s.display))
}

func TestTripleBufferSequence(t *testing.T) {
	s := newSession(t, 3)

	err := s.run(t, ready(7))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, presentedIndices(s.display))
}

func TestDelayByOneRequeue(t *testing.T) {
	s := newSession(t, 3)

	require.NoError(t, s.run(t, ready(6)))

	presented := presentedIndices(s.display)
	// Os 3 primeiros submits são o enchimento inicial do pool.
	requeues := s.prod.submitted[3:]

	// O buffer devolvido no passo k é sempre o apresentado no passo k-1,
	// nunca o apresentado no mesmo passo.
	require.Len(t, requeues, len(presented)-1)
	for k := 1; k < len(presented); k++ {
		assert.Equal(t, pipeline.SlotID(presented[k-1]), requeues[k-1],
			"requeue do passo %d deve ser o buffer superado", k)
		assert.NotEqual(t, pipeline.SlotID(presented[k]), requeues[k-1],
			"buffer apresentado no passo %d não pode voltar no mesmo passo", k)
	}
}

func TestExactlyOnePresentingInSteadyState(t *testing.T) {
	s := newSession(t, 3)

	// Em cada Present: no máximo um buffer visível (o do passo anterior) e
	// nenhum buffer do produtor em apresentação.
	s.display.onPresent = func() {
		assert.LessOrEqual(t, s.pool.CountState(buffer.StatePresenting), 1)
		assert.LessOrEqual(t, s.pool.CountState(buffer.StateReadyForPresentation), 1)
	}

	require.NoError(t, s.run(t, ready(5)))

	assert.Equal(t, 1, s.pool.CountState(buffer.StatePresenting))
	assert.Equal(t, 0, s.pool.CountState(buffer.StateReadyForPresentation))
	assert.Equal(t, 2, s.pool.CountState(buffer.StateQueuedToProducer))
}

func TestCollectFailureIsFatalAndTeardownStillRuns(t *testing.T) {
	s := newSession(t, 2)
	s.prod.failCollectAt = 4 // quinto frame

	err := s.run(t, ready(10))

	var fault *pipeline.StreamFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "collect", fault.Op)
	assert.Len(t, s.display.presented, 4)

	// O teardown do pool ainda precisa liberar tudo.
	s.pool.Destroy()
	assert.Equal(t, s.alloc.allocs, s.alloc.frees)
	assert.Equal(t, s.alloc.exports, s.alloc.closes)
	assert.Equal(t, s.display.surfaces, s.display.released)
}

func TestPresentFailureIsFatal(t *testing.T) {
	s := newSession(t, 2)
	s.display.failPresentAt = 0

	err := s.run(t, ready(1))

	var fault *pipeline.StreamFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "present", fault.Op)
}

func TestIdleTimeoutExits(t *testing.T) {
	s := newSession(t, 2)

	err := s.run(t, nil)
	assert.NoError(t, err)
	assert.Empty(t, s.display.presented)
}

func TestStopEventExits(t *testing.T) {
	s := newSession(t, 2)

	err := s.run(t, []Event{EventStop})
	assert.NoError(t, err)
	assert.Empty(t, s.display.presented)
}

func TestContextCancelExits(t *testing.T) {
	s := newSession(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := New(s.prod, s.display, s.pool, &fakeSource{events: ready(10)}, Config{})
	assert.NoError(t, eng.Run(ctx))
	assert.Empty(t, s.display.presented)
}

func TestDisplayEventsAreLivenessOnly(t *testing.T) {
	s := newSession(t, 2)

	err := s.run(t, []Event{EventDisplay, EventProducerReady, EventDisplay})
	require.NoError(t, err)

	assert.Equal(t, 2, s.display.events)
	assert.Len(t, s.display.presented, 1)
	// Eventos do consumidor não movem estado de buffer.
	assert.Equal(t, 1, s.pool.CountState(buffer.StatePresenting))
	assert.Equal(t, 1, s.pool.CountState(buffer.StateQueuedToProducer))
}

func TestUnknownSlotIsFatal(t *testing.T) {
	s := newSession(t, 2)
	s.prod.queue = append(s.prod.queue[:0], pipeline.SlotID(9))

	err := s.run(t, ready(1))

	var fault *pipeline.StreamFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "collect", fault.Op)
}

func TestStats(t *testing.T) {
	s := newSession(t, 2)

	eng := New(s.prod, s.display, s.pool, &fakeSource{events: append(ready(3), EventDisplay)}, Config{
		VideoDevice: "/dev/video-test",
	})
	require.NoError(t, eng.Run(context.Background()))

	stats := eng.Stats()
	assert.Equal(t, uint64(3), stats.FramesPresented)
	assert.Equal(t, uint64(2), stats.BuffersRequeued)
	assert.Equal(t, uint64(1), stats.DisplayEvents)
	assert.Equal(t, 0, stats.CurrentBuffer) // 0,1,0 -> termina no 0
	assert.Contains(t, stats.String(), "3 frames")
}
