// Package pipeline define as fronteiras entre o núcleo de handoff e os
// subsistemas externos: o produtor de frames, o consumidor de apresentação e
// o alocador de memória de dispositivo.
package pipeline

import (
	"github.com/T3-Labs/edge-display/pkg/geometry"
)

// SlotID é o índice de buffer atribuído pelo produtor no registro.
type SlotID int

// AllocationID identifica uma alocação dentro do alocador (lado consumidor).
type AllocationID uint32

// BufferHandle é o descritor compartilhável de um buffer. Duplicá-lo não
// duplica a memória; o kernel mantém a contagem de referências.
type BufferHandle int

// SurfaceID identifica um buffer já registrado como superfície apresentável.
type SurfaceID uint32

// Producer é o subsistema de captura. Todas as chamadas são síncronas e
// devem retornar rápido em relação à cadência de frames; Collect só pode ser
// chamado depois que Fd sinalizou leitura disponível.
type Producer interface {
	// QueryGeometry lê a geometria corrente do produtor.
	QueryGeometry() (geometry.Geometry, error)

	// SetGeometry submete a geometria desejada e retorna a geometria
	// efetivamente aceita (o produtor pode ajustar para o valor suportado
	// mais próximo).
	SetGeometry(geometry.Geometry) (geometry.Geometry, error)

	// RequestSlots reserva slots de buffer no produtor e retorna quantos
	// foram de fato concedidos.
	RequestSlots(count int) (int, error)

	// RegisterBuffer vincula um handle compartilhado a um slot do produtor.
	RegisterBuffer(handle BufferHandle) (SlotID, error)

	// Submit enfileira o slot para captura.
	Submit(slot SlotID) error

	// Collect retorna o próximo slot com frame completo.
	Collect() (SlotID, error)

	StreamOn() error
	StreamOff() error

	// Fd é o descritor usado no ponto de espera do engine.
	Fd() int

	Close() error
}

// Output é uma saída de vídeo enumerada pelo consumidor.
type Output struct {
	ID        uint32 // identidade do conector
	PipeID    uint32 // pipeline de hardware que alimenta a saída
	PipeIndex int    // posição da pipeline na lista do subsistema (bit do bitmask)
	Active    bool
	Mode      geometry.Rect // retângulo do modo ativo, se houver
}

// Plane é uma superfície de apresentação candidata.
type Plane struct {
	ID            uint32
	PossiblePipes uint32 // bitmask por PipeIndex
	Formats       []geometry.FourCC
}

// Target é o destino de apresentação resolvido para a sessão.
type Target struct {
	Output  Output
	PlaneID uint32
}

// Display é o subsistema consumidor.
type Display interface {
	ListOutputs() ([]Output, error)
	ListPlanes() ([]Plane, error)

	// DescribeSurface registra um handle como superfície apresentável com a
	// geometria e o formato dados. Formato e stride ficam fixos aqui.
	DescribeSurface(handle BufferHandle, geo geometry.Geometry, format geometry.FourCC) (SurfaceID, error)
	ReleaseSurface(id SurfaceID) error

	// Present mostra a superfície na saída, recortando src e posicionando
	// em dst.
	Present(id SurfaceID, target Target, src, dst geometry.Rect) error

	// ReadEvents drena eventos pendentes do consumidor (vblank etc). Os
	// eventos não carregam transição de estado de buffer; servem só para
	// manter o loop responsivo e detectar erro do consumidor.
	ReadEvents() error

	// Fd é o descritor de eventos usado no ponto de espera do engine.
	Fd() int

	Close() error
}

// Allocator aloca e exporta a memória de dispositivo dos buffers
// compartilhados. Nenhum outro componente aloca ou libera essa memória.
type Allocator interface {
	Allocate(geo geometry.Geometry) (AllocationID, error)
	ExportHandle(id AllocationID) (BufferHandle, error)
	CloseHandle(handle BufferHandle) error
	Free(id AllocationID) error
}
