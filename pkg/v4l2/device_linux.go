//go:build linux && (amd64 || arm64)

// Package v4l2 é o produtor de frames real: um dispositivo de captura V4L2
// alimentado por buffers dma-buf importados. Nenhum pixel passa pelo heap do
// processo; o dispositivo escreve direto na memória compartilhada.
package v4l2

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-display/pkg/geometry"
	"github.com/T3-Labs/edge-display/pkg/logger"
	"github.com/T3-Labs/edge-display/pkg/pipeline"
)

type Device struct {
	fd   int
	path string

	// fd do dma-buf por slot, preenchido em RegisterBuffer. O driver só
	// recebe o fd no enfileiramento.
	slotFds []int32
}

// Open abre o dispositivo de captura e verifica que ele suporta captura de
// vídeo com streaming.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir %s: %w", path, err)
	}

	var caps capability
	if err := ioctl(fd, reqQueryCap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("VIDIOC_QUERYCAP em %s: %w", path, err)
	}

	capMask := caps.Capabilities
	if caps.Capabilities&0x80000000 != 0 { // V4L2_CAP_DEVICE_CAPS
		capMask = caps.DeviceCaps
	}
	if capMask&capVideoCapture == 0 || capMask&capStreaming == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s não suporta captura com streaming (caps=%#x)", path, capMask)
	}

	logger.Log.Infow("Dispositivo de captura aberto",
		"path", path,
		"driver", cstr(caps.Driver[:]),
		"card", cstr(caps.Card[:]))

	return &Device{fd: fd, path: path}, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (d *Device) QueryGeometry() (geometry.Geometry, error) {
	var f format
	f.Type = bufTypeVideoCapture
	if err := ioctl(d.fd, reqGetFormat, unsafe.Pointer(&f)); err != nil {
		return geometry.Geometry{}, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	return pixToGeometry(f.Pix), nil
}

// SetGeometry aplica os campos não-zero de g e devolve o que o driver
// efetivamente aceitou. O driver pode ajustar qualquer campo.
func (d *Device) SetGeometry(g geometry.Geometry) (geometry.Geometry, error) {
	var f format
	f.Type = bufTypeVideoCapture
	if err := ioctl(d.fd, reqGetFormat, unsafe.Pointer(&f)); err != nil {
		return geometry.Geometry{}, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}

	if g.Width > 0 {
		f.Pix.Width = g.Width
	}
	if g.Height > 0 {
		f.Pix.Height = g.Height
	}
	if g.Format != 0 {
		f.Pix.PixelFormat = uint32(g.Format)
	}

	if err := ioctl(d.fd, reqSetFormat, unsafe.Pointer(&f)); err != nil {
		return geometry.Geometry{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}

	committed := pixToGeometry(f.Pix)
	committed.OutFormat = g.OutFormat
	return committed, nil
}

func pixToGeometry(p pixFormat) geometry.Geometry {
	return geometry.Geometry{
		Width:     p.Width,
		Height:    p.Height,
		Stride:    p.BytesPerLine,
		SizeBytes: p.SizeImage,
		Format:    geometry.FourCC(p.PixelFormat),
	}
}

// RequestSlots pede count slots de enfileiramento em modo dma-buf. O driver
// pode conceder menos do que o pedido.
func (d *Device) RequestSlots(count int) (int, error) {
	req := requestBuffers{
		Count:  uint32(count),
		Type:   bufTypeVideoCapture,
		Memory: memoryDmabuf,
	}
	if err := ioctl(d.fd, reqRequestBufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	d.slotFds = make([]int32, req.Count)
	for i := range d.slotFds {
		d.slotFds[i] = -1
	}
	return int(req.Count), nil
}

// RegisterBuffer associa um dma-buf ao próximo slot livre. A associação real
// com o driver acontece no primeiro Submit.
func (d *Device) RegisterBuffer(handle pipeline.BufferHandle) (pipeline.SlotID, error) {
	for i, fd := range d.slotFds {
		if fd < 0 {
			d.slotFds[i] = int32(handle)
			return pipeline.SlotID(i), nil
		}
	}
	return 0, fmt.Errorf("todos os %d slots já têm buffer associado", len(d.slotFds))
}

// Submit entrega o slot ao driver para preenchimento.
func (d *Device) Submit(slot pipeline.SlotID) error {
	if int(slot) < 0 || int(slot) >= len(d.slotFds) || d.slotFds[slot] < 0 {
		return fmt.Errorf("slot %d não registrado", slot)
	}
	buf := bufferInfo{
		Index:  uint32(slot),
		Type:   bufTypeVideoCapture,
		Memory: memoryDmabuf,
		M:      uint64(uint32(d.slotFds[slot])),
	}
	if err := ioctl(d.fd, reqQueueBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF slot %d: %w", slot, err)
	}
	return nil
}

// Collect retira do driver o slot mais antigo com frame completo.
func (d *Device) Collect() (pipeline.SlotID, error) {
	buf := bufferInfo{
		Type:   bufTypeVideoCapture,
		Memory: memoryDmabuf,
	}
	if err := ioctl(d.fd, reqDequeueBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return pipeline.SlotID(buf.Index), nil
}

func (d *Device) StreamOn() error {
	typ := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, reqStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	logger.Log.Infow("Captura iniciada", "path", d.path)
	return nil
}

func (d *Device) StreamOff() error {
	typ := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, reqStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	logger.Log.Infow("Captura encerrada", "path", d.path)
	return nil
}

func (d *Device) Fd() int { return d.fd }

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
