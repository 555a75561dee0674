//go:build linux && (amd64 || arm64)

package drm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

// Allocate cria um dumb buffer com as dimensões da geometria. O pitch que o
// kernel escolher fica registrado e prevalece sobre o stride pedido.
func (d *Device) Allocate(geo geometry.Geometry) (pipeline.AllocationID, error) {
	bpp := uint32(32)
	if geo.Stride > 0 && geo.Width > 0 {
		bpp = geo.Stride * 8 / geo.Width
	}

	req := createDumb{
		Width:  geo.Width,
		Height: geo.Height,
		Bpp:    bpp,
	}
	if err := ioctl(d.fd, reqModeCreateDumb, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("CREATE_DUMB %dx%d bpp=%d: %w", geo.Width, geo.Height, bpp, err)
	}

	id := pipeline.AllocationID(req.Handle)
	d.allocs[id] = allocInfo{pitch: req.Pitch, size: req.Size}
	return id, nil
}

// ExportHandle exporta a alocação como dma-buf. O fd resultante pode ser
// entregue a qualquer outro subsistema; a memória só morre quando todas as
// referências caem.
func (d *Device) ExportHandle(id pipeline.AllocationID) (pipeline.BufferHandle, error) {
	req := primeHandle{
		Handle: uint32(id),
		Flags:  unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(d.fd, reqPrimeHandleToFd, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("PRIME_HANDLE_TO_FD handle=%d: %w", id, err)
	}

	handle := pipeline.BufferHandle(req.Fd)
	d.exports[handle] = uint32(id)
	return handle, nil
}

// DescribeSurface registra o buffer como framebuffer apresentável no formato
// de saída. O handle precisa ter sido exportado por este dispositivo.
func (d *Device) DescribeSurface(handle pipeline.BufferHandle, geo geometry.Geometry, format geometry.FourCC) (pipeline.SurfaceID, error) {
	gem, ok := d.exports[handle]
	if !ok {
		return 0, fmt.Errorf("handle %d não foi exportado por este dispositivo", handle)
	}

	pitch := geo.Stride
	if info, ok := d.allocs[pipeline.AllocationID(gem)]; ok && info.pitch > 0 {
		pitch = info.pitch
	}

	req := fbCmd2{
		Width:       geo.Width,
		Height:      geo.Height,
		PixelFormat: uint32(format),
	}
	req.Handles[0] = gem
	req.Pitches[0] = pitch

	if err := ioctl(d.fd, reqModeAddFb2, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("ADDFB2 %dx%d %s: %w", geo.Width, geo.Height, format, err)
	}
	return pipeline.SurfaceID(req.FbID), nil
}

func (d *Device) ReleaseSurface(id pipeline.SurfaceID) error {
	fbID := uint32(id)
	if err := ioctl(d.fd, reqModeRmFb, unsafe.Pointer(&fbID)); err != nil {
		return fmt.Errorf("RMFB %d: %w", id, err)
	}
	return nil
}

func (d *Device) CloseHandle(handle pipeline.BufferHandle) error {
	delete(d.exports, handle)
	return unix.Close(int(handle))
}

func (d *Device) Free(id pipeline.AllocationID) error {
	delete(d.allocs, id)
	req := destroyDumb{Handle: uint32(id)}
	if err := ioctl(d.fd, reqModeDestroyDumb, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("DESTROY_DUMB %d: %w", id, err)
	}
	return nil
}

// Present liga a superfície ao plano alvo. O retângulo de origem vai em
// ponto fixo 16.16, como a UAPI exige.
func (d *Device) Present(id pipeline.SurfaceID, target pipeline.Target, src, dst geometry.Rect) error {
	req := setPlane{
		PlaneID: target.PlaneID,
		CrtcID:  target.Output.PipeID,
		FbID:    uint32(id),
		CrtcX:   dst.Left,
		CrtcY:   dst.Top,
		CrtcW:   dst.Width,
		CrtcH:   dst.Height,
		SrcX:    uint32(src.Left) << 16,
		SrcY:    uint32(src.Top) << 16,
		SrcW:    src.Width << 16,
		SrcH:    src.Height << 16,
	}
	if err := ioctl(d.fd, reqModeSetPlane, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("SETPLANE plano=%d crtc=%d fb=%d: %w", target.PlaneID, target.Output.PipeID, id, err)
	}
	return nil
}

// ReadEvents drena o descritor de eventos. O conteúdo (vblank, page flip) é
// descartado; só a drenagem importa para o loop não ficar acordando à toa.
func (d *Device) ReadEvents() error {
	buf := make([]byte, 1024)
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return fmt.Errorf("leitura de eventos drm: %w", err)
	}
	logger.Log.Debugw("Eventos de exibição drenados", "bytes", n)
	return nil
}
