package engine

import "time"

// Event é o resultado de uma rodada no ponto de espera do loop. Os dois
// sinais externos (produtor com frame pronto, evento do consumidor) chegam
// multiplexados por aqui junto com timeout e pedido de parada.
type Event int

const (
	// EventNone: a espera acordou sem nada útil (ex: interrompida por
	// sinal). O loop só volta a esperar.
	EventNone Event = iota

	// EventTimeout: nenhum subsistema sinalizou dentro do intervalo
	// configurado. Tratado como produtor travado ou desconectado.
	EventTimeout

	// EventProducerReady: o produtor tem um frame completo para coletar.
	EventProducerReady

	// EventDisplay: o consumidor tem eventos pendentes (vblank etc).
	EventDisplay

	// EventStop: parada externa explícita.
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventTimeout:
		return "TIMEOUT"
	case EventProducerReady:
		return "PRODUCER_READY"
	case EventDisplay:
		return "DISPLAY"
	case EventStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// EventSource é o ponto único de espera do engine.
type EventSource interface {
	Wait(timeout time.Duration) (Event, error)
}
