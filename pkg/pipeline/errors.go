package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveOutput indica que a busca por uma saída ativa se esgotou
	// sem encontrar nenhuma e o chamador não especificou uma.
	ErrNoActiveOutput = errors.New("nenhuma saída ativa encontrada")

	// ErrNoCompatiblePlane indica que nenhuma superfície de apresentação da
	// saída escolhida suporta o formato de pixel da sessão.
	ErrNoCompatiblePlane = errors.New("nenhum plane compatível com o formato")
)

// NegotiationError é qualquer rejeição do produtor/consumidor durante a
// negociação de capacidades. É fatal para a sessão: estado parcial de
// negociação não é retomável com segurança.
type NegotiationError struct {
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negociação falhou em %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// AllocationError é uma falha parcial na construção do pool. Quando ela é
// reportada, todas as alocações anteriores já foram desfeitas.
type AllocationError struct {
	Index int
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("falha ao alocar buffer %d: %v", e.Index, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// StreamFault é uma falha em regime durante o loop de handoff. Encerra a
// sessão imediatamente; nada aqui é re-tentado.
type StreamFault struct {
	Op  string
	Err error
}

func (e *StreamFault) Error() string {
	return fmt.Sprintf("falha de stream em %s: %v", e.Op, e.Err)
}

func (e *StreamFault) Unwrap() error { return e.Err }
