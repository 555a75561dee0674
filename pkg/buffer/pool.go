// Package buffer implementa o pool fixo de buffers compartilhados entre o
// produtor de captura e o consumidor de apresentação. Os buffers são alocados
// uma única vez no início da sessão e circulam por referência; pixel nenhum é
// copiado.
package buffer

import (
	"fmt"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

// State é o estado de posse de um buffer compartilhado.
type State int

const (
	StateFree State = iota
	StateQueuedToProducer
	StateReadyForPresentation
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateQueuedToProducer:
		return "QUEUED_TO_PRODUCER"
	case StateReadyForPresentation:
		return "READY_FOR_PRESENTATION"
	case StatePresenting:
		return "PRESENTING"
	default:
		return "UNKNOWN"
	}
}

// O ciclo de vida é estritamente linear; qualquer outro salto é bug de
// ordenação no handoff e vira erro em vez de corrupção visível.
var nextState = map[State]State{
	StateFree:                 StateQueuedToProducer,
	StateQueuedToProducer:     StateReadyForPresentation,
	StateReadyForPresentation: StatePresenting,
	StatePresenting:           StateFree,
}

// SharedBuffer é uma alocação de dispositivo mais as identidades pelas quais
// produtor e consumidor se referem a ela. A alocação é imutável durante a
// sessão; só o estado muda em regime.
type SharedBuffer struct {
	Index        int
	AllocationID pipeline.AllocationID
	Handle       pipeline.BufferHandle
	SurfaceID    pipeline.SurfaceID
	Slot         pipeline.SlotID

	state State
}

func (b *SharedBuffer) State() State { return b.state }

func (b *SharedBuffer) advance(to State) error {
	if nextState[b.state] != to {
		return fmt.Errorf("transição inválida do buffer %d: %s -> %s", b.Index, b.state, to)
	}
	b.state = to
	return nil
}

// MarkQueued registra que o buffer foi entregue ao produtor para escrita.
// Só é válido a partir de FREE: um buffer apresentado (ou a caminho de ser)
// nunca pode ser enfileirado para escrita.
func (b *SharedBuffer) MarkQueued() error { return b.advance(StateQueuedToProducer) }

// MarkCollected registra que o produtor terminou de escrever o frame.
func (b *SharedBuffer) MarkCollected() error { return b.advance(StateReadyForPresentation) }

// MarkPresenting registra que o buffer está visível na saída.
func (b *SharedBuffer) MarkPresenting() error { return b.advance(StatePresenting) }

// MarkSuperseded registra que um sucessor foi apresentado e o buffer voltou
// a ficar livre.
func (b *SharedBuffer) MarkSuperseded() error { return b.advance(StateFree) }

// Pool é a coleção ordenada e de tamanho fixo de buffers compartilhados.
// O pool é o único dono da memória de dispositivo: o engine só carrega
// referências emprestadas.
type Pool struct {
	alloc   pipeline.Allocator
	display pipeline.Display
	geo     geometry.Geometry

	buffers []*SharedBuffer
	bySlot  map[pipeline.SlotID]*SharedBuffer
}

// NewPool aloca count buffers dimensionados pela geometria e registra cada um
// como superfície de apresentação. Tudo ou nada: na primeira falha todas as
// alocações anteriores são desfeitas em ordem reversa de criação e o erro é
// reportado como AllocationError. Um pool parcial nunca fica vivo.
func NewPool(alloc pipeline.Allocator, display pipeline.Display, count int, geo geometry.Geometry) (*Pool, error) {
	if count < 2 {
		// Com 1 buffer o produtor escreveria na memória ainda visível.
		return nil, fmt.Errorf("pool exige no mínimo 2 buffers, recebeu %d", count)
	}

	p := &Pool{
		alloc:   alloc,
		display: display,
		geo:     geo,
		buffers: make([]*SharedBuffer, 0, count),
		bySlot:  make(map[pipeline.SlotID]*SharedBuffer, count),
	}

	for i := 0; i < count; i++ {
		b, err := p.createBuffer(i)
		if err != nil {
			p.releaseAll()
			return nil, &pipeline.AllocationError{Index: i, Err: err}
		}
		p.buffers = append(p.buffers, b)
	}

	logger.Log.Infow("Pool de buffers criado",
		"count", count,
		"geometry", geo.String())

	return p, nil
}

func (p *Pool) createBuffer(index int) (*SharedBuffer, error) {
	id, err := p.alloc.Allocate(p.geo)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	handle, err := p.alloc.ExportHandle(id)
	if err != nil {
		_ = p.alloc.Free(id)
		return nil, fmt.Errorf("export: %w", err)
	}

	surface, err := p.display.DescribeSurface(handle, p.geo, p.geo.DisplayFormat())
	if err != nil {
		_ = p.alloc.CloseHandle(handle)
		_ = p.alloc.Free(id)
		return nil, fmt.Errorf("describe surface: %w", err)
	}

	return &SharedBuffer{
		Index:        index,
		AllocationID: id,
		Handle:       handle,
		SurfaceID:    surface,
		Slot:         -1,
		state:        StateFree,
	}, nil
}

// RegisterAll reserva os slots do produtor e vincula o handle de cada buffer
// ao seu slot. Chamado uma vez, depois de NewPool e antes de QueueAll.
func (p *Pool) RegisterAll(prod pipeline.Producer) error {
	granted, err := prod.RequestSlots(len(p.buffers))
	if err != nil {
		return &pipeline.AllocationError{Index: 0, Err: fmt.Errorf("request slots: %w", err)}
	}
	if granted < len(p.buffers) {
		return &pipeline.AllocationError{
			Index: granted,
			Err:   fmt.Errorf("produtor concedeu %d de %d slots", granted, len(p.buffers)),
		}
	}

	for _, b := range p.buffers {
		slot, err := prod.RegisterBuffer(b.Handle)
		if err != nil {
			return &pipeline.AllocationError{Index: b.Index, Err: fmt.Errorf("register: %w", err)}
		}
		b.Slot = slot
		p.bySlot[slot] = b
	}
	return nil
}

// QueueAll entrega todos os buffers ao produtor para a primeira rodada de
// captura.
func (p *Pool) QueueAll(prod pipeline.Producer) error {
	for _, b := range p.buffers {
		if err := b.MarkQueued(); err != nil {
			return err
		}
		if err := prod.Submit(b.Slot); err != nil {
			return fmt.Errorf("submit do buffer %d: %w", b.Index, err)
		}
	}
	return nil
}

func (p *Pool) Len() int { return len(p.buffers) }

func (p *Pool) Get(index int) *SharedBuffer {
	if index < 0 || index >= len(p.buffers) {
		return nil
	}
	return p.buffers[index]
}

func (p *Pool) BySlot(slot pipeline.SlotID) *SharedBuffer {
	return p.bySlot[slot]
}

// CountState conta quantos buffers estão no estado dado.
func (p *Pool) CountState(s State) int {
	n := 0
	for _, b := range p.buffers {
		if b.state == s {
			n++
		}
	}
	return n
}

// Destroy libera tudo: primeiro os registros de apresentação, depois os
// handles compartilháveis, por fim as alocações. Roda até o fim mesmo quando
// a sessão está morrendo por erro em outro lugar; falhas individuais são
// logadas e não interrompem a liberação dos demais buffers.
func (p *Pool) Destroy() {
	for i := len(p.buffers) - 1; i >= 0; i-- {
		b := p.buffers[i]
		if err := p.display.ReleaseSurface(b.SurfaceID); err != nil {
			logger.Log.Warnw("Erro ao liberar superfície", "buffer", b.Index, "error", err)
		}
	}
	for i := len(p.buffers) - 1; i >= 0; i-- {
		b := p.buffers[i]
		if err := p.alloc.CloseHandle(b.Handle); err != nil {
			logger.Log.Warnw("Erro ao fechar handle", "buffer", b.Index, "error", err)
		}
	}
	for i := len(p.buffers) - 1; i >= 0; i-- {
		b := p.buffers[i]
		if err := p.alloc.Free(b.AllocationID); err != nil {
			logger.Log.Warnw("Erro ao liberar alocação", "buffer", b.Index, "error", err)
		}
	}
	p.buffers = p.buffers[:0]
}

// releaseAll desfaz buffers completamente criados durante um NewPool que
// falhou, em ordem reversa de criação.
func (p *Pool) releaseAll() {
	for i := len(p.buffers) - 1; i >= 0; i-- {
		b := p.buffers[i]
		if err := p.display.ReleaseSurface(b.SurfaceID); err != nil {
			logger.Log.Warnw("Erro no rollback da superfície", "buffer", b.Index, "error", err)
		}
		if err := p.alloc.CloseHandle(b.Handle); err != nil {
			logger.Log.Warnw("Erro no rollback do handle", "buffer", b.Index, "error", err)
		}
		if err := p.alloc.Free(b.AllocationID); err != nil {
			logger.Log.Warnw("Erro no rollback da alocação", "buffer", b.Index, "error", err)
		}
	}
	p.buffers = p.buffers[:0]
}

// Stats é um snapshot da distribuição de estados do pool.
type Stats struct {
	Count      int
	Free       int
	Queued     int
	Ready      int
	Presenting int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Count:      len(p.buffers),
		Free:       p.CountState(StateFree),
		Queued:     p.CountState(StateQueuedToProducer),
		Ready:      p.CountState(StateReadyForPresentation),
		Presenting: p.CountState(StatePresenting),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("Pool: %d buffers (free: %d, queued: %d, ready: %d, presenting: %d)",
		s.Count, s.Free, s.Queued, s.Ready, s.Presenting)
}
