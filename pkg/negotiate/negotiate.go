// Package negotiate faz a troca única de capacidades com o produtor e o
// consumidor antes do pool existir: fecha a geometria da sessão e resolve o
// alvo de apresentação. Roda uma vez por sessão, nunca de novo.
package negotiate

import (
	"fmt"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

// Request é o pedido (possivelmente parcial) do chamador. Campos zerados
// significam "use o que o subsistema reportar".
type Request struct {
	Width     uint32
	Height    uint32
	Format    geometry.FourCC
	OutFormat geometry.FourCC

	OutputID uint32 // conector explícito; 0 = primeiro ativo
	PipeID   uint32 // pipeline explícita; só faz sentido junto com OutputID
}

// Format negocia a geometria com o produtor: consulta a atual, aplica os
// overrides do chamador, submete e relê a versão oficial. O produtor pode
// ajustar qualquer campo para o valor suportado mais próximo; o que ele
// devolver é o que vale para a sessão inteira.
func Format(prod pipeline.Producer, req Request) (geometry.Geometry, error) {
	current, err := prod.QueryGeometry()
	if err != nil {
		return geometry.Geometry{}, &pipeline.NegotiationError{Stage: "query_geometry", Err: err}
	}

	logger.Log.Infow("Geometria inicial do produtor",
		"width", current.Width,
		"height", current.Height,
		"format", current.Format.String())

	if req.Width > 0 && req.Height > 0 {
		current.Width = req.Width
		current.Height = req.Height
	}
	if req.Format != 0 {
		current.Format = req.Format
	}

	committed, err := prod.SetGeometry(current)
	if err != nil {
		return geometry.Geometry{}, &pipeline.NegotiationError{Stage: "set_geometry", Err: err}
	}
	committed.OutFormat = req.OutFormat

	logger.Log.Infow("Geometria final da sessão",
		"width", committed.Width,
		"height", committed.Height,
		"format", committed.Format.String(),
		"stride", committed.Stride,
		"size_bytes", committed.SizeBytes)

	if committed.SizeBytes == 0 {
		return geometry.Geometry{}, &pipeline.NegotiationError{
			Stage: "set_geometry",
			Err:   fmt.Errorf("produtor retornou tamanho de buffer zero"),
		}
	}

	return committed, nil
}

// Target resolve a saída e a superfície de apresentação compatível. A busca
// é uma varredura linear sem ranking: vence o primeiro candidato compatível,
// na ordem em que o subsistema reporta. Determinístico para uma mesma lista.
func Target(display pipeline.Display, req Request, format geometry.FourCC) (pipeline.Target, error) {
	outputs, err := display.ListOutputs()
	if err != nil {
		return pipeline.Target{}, &pipeline.NegotiationError{Stage: "list_outputs", Err: err}
	}

	output, err := pickOutput(outputs, req)
	if err != nil {
		return pipeline.Target{}, err
	}

	planes, err := display.ListPlanes()
	if err != nil {
		return pipeline.Target{}, &pipeline.NegotiationError{Stage: "list_planes", Err: err}
	}

	plane, err := pickPlane(planes, output, format)
	if err != nil {
		return pipeline.Target{}, err
	}

	logger.Log.Infow("Alvo de apresentação resolvido",
		"output_id", output.ID,
		"pipe_id", output.PipeID,
		"plane_id", plane.ID,
		"format", format.String())

	return pipeline.Target{Output: output, PlaneID: plane.ID}, nil
}

func pickOutput(outputs []pipeline.Output, req Request) (pipeline.Output, error) {
	if req.OutputID != 0 {
		for _, out := range outputs {
			if out.ID == req.OutputID {
				if req.PipeID != 0 && out.PipeID != req.PipeID {
					return pipeline.Output{}, &pipeline.NegotiationError{
						Stage: "pick_output",
						Err: fmt.Errorf("saída %d não é alimentada pela pipeline %d",
							req.OutputID, req.PipeID),
					}
				}
				return out, nil
			}
		}
		return pipeline.Output{}, &pipeline.NegotiationError{
			Stage: "pick_output",
			Err:   fmt.Errorf("saída %d não existe", req.OutputID),
		}
	}

	for _, out := range outputs {
		if out.Active {
			return out, nil
		}
	}
	return pipeline.Output{}, pipeline.ErrNoActiveOutput
}

func pickPlane(planes []pipeline.Plane, output pipeline.Output, format geometry.FourCC) (pipeline.Plane, error) {
	for _, plane := range planes {
		if plane.PossiblePipes&(1<<uint(output.PipeIndex)) == 0 {
			continue
		}
		for _, f := range plane.Formats {
			if f == format {
				return plane, nil
			}
		}
	}
	return pipeline.Plane{}, pipeline.ErrNoCompatiblePlane
}

// ComposeRect resolve o retângulo de destino: o pedido explícito quando
// houver, senão o retângulo do modo ativo da saída (frame ocupa a tela).
func ComposeRect(requested geometry.Rect, output pipeline.Output) geometry.Rect {
	if !requested.IsZero() {
		return requested
	}
	return output.Mode
}
