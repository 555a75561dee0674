//go:build linux && (amd64 || arm64)

// Package drm é o consumidor de frames real: aloca os buffers compartilhados
// como dumb buffers, exporta cada um como dma-buf e apresenta framebuffers em
// um plano de overlay via SETPLANE.
package drm

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

const maxCardNodes = 16

type allocInfo struct {
	pitch uint32
	size  uint64
}

type Device struct {
	fd   int
	path string

	// Contabilidade das alocações: gem handle -> pitch/size do dumb buffer
	// e fd exportado -> gem handle, para remontar o ADDFB2.
	allocs  map[pipeline.AllocationID]allocInfo
	exports map[pipeline.BufferHandle]uint32
}

// OpenByModule percorre os nós de render procurando o driver com o nome
// pedido. Nome vazio aceita o primeiro nó que abrir.
func OpenByModule(module string) (*Device, error) {
	for i := 0; i < maxCardNodes; i++ {
		path := fmt.Sprintf("/dev/dri/card%d", i)
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}

		name, err := driverName(fd)
		if err != nil {
			unix.Close(fd)
			continue
		}

		if module == "" || name == module {
			logger.Log.Infow("Dispositivo de exibição aberto",
				"path", path, "driver", name)
			return &Device{
				fd:      fd,
				path:    path,
				allocs:  make(map[pipeline.AllocationID]allocInfo),
				exports: make(map[pipeline.BufferHandle]uint32),
			}, nil
		}
		unix.Close(fd)
	}
	return nil, fmt.Errorf("nenhum dispositivo drm com driver %q encontrado", module)
}

func driverName(fd int) (string, error) {
	var v version
	if err := ioctl(fd, reqVersion, unsafe.Pointer(&v)); err != nil {
		return "", err
	}
	if v.NameLen == 0 {
		return "", nil
	}

	buf := make([]byte, v.NameLen)
	v = version{
		NameLen: uint64(len(buf)),
		Name:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
	}
	err := ioctl(fd, reqVersion, unsafe.Pointer(&v))
	runtime.KeepAlive(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:v.NameLen]), nil
}

// ListOutputs enumera os conectores do dispositivo com o pipe de varredura
// (CRTC) já associado a cada um e a resolução do modo comprometido.
func (d *Device) ListOutputs() ([]pipeline.Output, error) {
	crtcs, connectors, err := d.resources()
	if err != nil {
		return nil, err
	}

	pipeIndex := make(map[uint32]int, len(crtcs))
	for i, id := range crtcs {
		pipeIndex[id] = i
	}

	outputs := make([]pipeline.Output, 0, len(connectors))
	for _, connID := range connectors {
		conn, err := d.connector(connID)
		if err != nil {
			return nil, fmt.Errorf("conector %d: %w", connID, err)
		}

		out := pipeline.Output{
			ID:     connID,
			Active: conn.Connection == connectionConnected,
		}

		if conn.EncoderID != 0 {
			enc := getEncoder{EncoderID: conn.EncoderID}
			if err := ioctl(d.fd, reqModeGetEncoder, unsafe.Pointer(&enc)); err != nil {
				return nil, fmt.Errorf("encoder %d: %w", conn.EncoderID, err)
			}
			if enc.CrtcID != 0 {
				out.PipeID = enc.CrtcID
				out.PipeIndex = pipeIndex[enc.CrtcID]

				crtc := modeCrtc{CrtcID: enc.CrtcID}
				if err := ioctl(d.fd, reqModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
					return nil, fmt.Errorf("crtc %d: %w", enc.CrtcID, err)
				}
				if crtc.ModeValid != 0 {
					out.Mode = geometry.Rect{
						Width:  uint32(crtc.Mode.Hdisplay),
						Height: uint32(crtc.Mode.Vdisplay),
					}
				}
			}
		}

		// Conector sem CRTC comprometido não serve de saída.
		if out.PipeID == 0 || out.Mode.IsZero() {
			out.Active = false
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (d *Device) resources() ([]uint32, []uint32, error) {
	var res cardRes
	if err := ioctl(d.fd, reqModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, fmt.Errorf("GETRESOURCES: %w", err)
	}

	crtcs := make([]uint32, res.CountCrtcs)
	connectors := make([]uint32, res.CountConnectors)
	if len(crtcs) > 0 {
		res.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcs[0])))
	}
	if len(connectors) > 0 {
		res.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectors[0])))
	}
	res.CountFbs = 0
	res.CountEncoders = 0
	res.FbIDPtr = 0
	res.EncoderIDPtr = 0

	err := ioctl(d.fd, reqModeGetResources, unsafe.Pointer(&res))
	runtime.KeepAlive(crtcs)
	runtime.KeepAlive(connectors)
	if err != nil {
		return nil, nil, fmt.Errorf("GETRESOURCES: %w", err)
	}
	return crtcs[:res.CountCrtcs], connectors[:res.CountConnectors], nil
}

func (d *Device) connector(id uint32) (getConnector, error) {
	conn := getConnector{ConnectorID: id}
	if err := ioctl(d.fd, reqModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return getConnector{}, err
	}

	// Segunda chamada com os arrays alocados; só os modos interessam.
	modes := make([]modeInfo, conn.CountModes)
	conn = getConnector{ConnectorID: id, CountModes: uint32(len(modes))}
	if len(modes) > 0 {
		conn.ModesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
	}
	err := ioctl(d.fd, reqModeGetConnector, unsafe.Pointer(&conn))
	runtime.KeepAlive(modes)
	if err != nil {
		return getConnector{}, err
	}
	return conn, nil
}

// ListPlanes enumera os planos de overlay com a máscara de pipes compatíveis
// e a lista de formatos de cada um.
func (d *Device) ListPlanes() ([]pipeline.Plane, error) {
	var res planeRes
	if err := ioctl(d.fd, reqModeGetPlaneRes, unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("GETPLANERESOURCES: %w", err)
	}

	ids := make([]uint32, res.CountPlanes)
	if len(ids) > 0 {
		res.PlaneIDPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	}
	err := ioctl(d.fd, reqModeGetPlaneRes, unsafe.Pointer(&res))
	runtime.KeepAlive(ids)
	if err != nil {
		return nil, fmt.Errorf("GETPLANERESOURCES: %w", err)
	}

	planes := make([]pipeline.Plane, 0, len(ids))
	for _, id := range ids[:res.CountPlanes] {
		plane := getPlane{PlaneID: id}
		if err := ioctl(d.fd, reqModeGetPlane, unsafe.Pointer(&plane)); err != nil {
			return nil, fmt.Errorf("plano %d: %w", id, err)
		}

		formats := make([]uint32, plane.CountFormatTypes)
		plane = getPlane{PlaneID: id, CountFormatTypes: uint32(len(formats))}
		if len(formats) > 0 {
			plane.FormatTypePtr = uint64(uintptr(unsafe.Pointer(&formats[0])))
		}
		err := ioctl(d.fd, reqModeGetPlane, unsafe.Pointer(&plane))
		runtime.KeepAlive(formats)
		if err != nil {
			return nil, fmt.Errorf("plano %d: %w", id, err)
		}

		fccs := make([]geometry.FourCC, len(formats))
		for i, f := range formats {
			fccs[i] = geometry.FourCC(f)
		}
		planes = append(planes, pipeline.Plane{
			ID:            id,
			PossiblePipes: plane.PossibleCrtcs,
			Formats:       fccs,
		})
	}
	return planes, nil
}

func (d *Device) Fd() int { return d.fd }

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
