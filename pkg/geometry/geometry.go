package geometry

import (
	"fmt"
)

// FourCC é um código de formato de pixel de 4 caracteres, empacotado em
// little-endian do mesmo jeito que os subsistemas de vídeo do kernel esperam.
type FourCC uint32

func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("fourcc inválido %q: precisa ter 4 caracteres", s)
	}
	return FourCC(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24), nil
}

func (f FourCC) String() string {
	if f == 0 {
		return "none"
	}
	return string([]byte{
		byte(f),
		byte(f >> 8),
		byte(f >> 16),
		byte(f >> 24),
	})
}

// Rect é uma sub-área de um frame ou de uma saída de vídeo.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// IsZero indica que o retângulo nunca foi preenchido (usa-se o default).
func (r Rect) IsZero() bool {
	return r.Left == 0 && r.Top == 0 && r.Width == 0 && r.Height == 0
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d@%d,%d", r.Width, r.Height, r.Left, r.Top)
}

// ParseRect interpreta "largura,altura@esquerda,topo" (ex: "640,480@0,0").
func ParseRect(s string) (Rect, error) {
	var r Rect
	n, err := fmt.Sscanf(s, "%d,%d@%d,%d", &r.Width, &r.Height, &r.Left, &r.Top)
	if err != nil || n != 4 {
		return Rect{}, fmt.Errorf("área inválida %q: esperado largura,altura@esquerda,topo", s)
	}
	return r, nil
}

// ParseSize interpreta "largura,altura" (ex: "1280,720").
func ParseSize(s string) (uint32, uint32, error) {
	var w, h uint32
	n, err := fmt.Sscanf(s, "%d,%d", &w, &h)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("resolução inválida %q: esperado largura,altura", s)
	}
	return w, h, nil
}

// Geometry é a geometria da sessão negociada entre produtor e consumidor.
// Depois da negociação ela é imutável: renegociação no meio do stream não
// existe neste sistema.
type Geometry struct {
	Width     uint32
	Height    uint32
	Stride    uint32 // bytes por linha, decidido pelo produtor
	SizeBytes uint32 // tamanho total do buffer, decidido pelo produtor
	Format    FourCC // formato do lado do produtor
	OutFormat FourCC // formato do lado da apresentação, se diferente
}

// DisplayFormat retorna o formato usado ao registrar superfícies de
// apresentação: o OutFormat quando definido, senão o formato do produtor.
func (g Geometry) DisplayFormat() FourCC {
	if g.OutFormat != 0 {
		return g.OutFormat
	}
	return g.Format
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d %s (stride=%d, size=%d)",
		g.Width, g.Height, g.Format, g.Stride, g.SizeBytes)
}

// FullFrame é o retângulo de origem default: o frame inteiro.
func (g Geometry) FullFrame() Rect {
	return Rect{Left: 0, Top: 0, Width: g.Width, Height: g.Height}
}
