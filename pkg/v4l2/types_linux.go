//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bufTypeVideoCapture = 1
	memoryDmabuf        = 4

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
)

// Layout binário das structs da UAPI em linux 64-bit.

type capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	_            [3]uint32
}

type pixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// format embute o union fmt da UAPI; só o membro pix é usado aqui.
type format struct {
	Type uint32
	_    uint32
	Pix  pixFormat
	_    [200 - unsafe.Sizeof(pixFormat{})]byte
}

type requestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	_            [3]uint8
}

type timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	UserBits [4]uint8
}

type bufferInfo struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         uint32
	Timestamp unix.Timeval
	Timecode  timecode
	Sequence  uint32
	Memory    uint32
	// M é o union m; com memory=DMABUF carrega o fd nos 32 bits baixos.
	M         uint64
	Length    uint32
	Reserved2 uint32
	RequestFd uint32
	_         uint32
}

var (
	reqQueryCap    = ioR('V', 0, unsafe.Sizeof(capability{}))
	reqGetFormat   = ioWR('V', 4, unsafe.Sizeof(format{}))
	reqSetFormat   = ioWR('V', 5, unsafe.Sizeof(format{}))
	reqRequestBufs = ioWR('V', 8, unsafe.Sizeof(requestBuffers{}))
	reqQueueBuf    = ioWR('V', 15, unsafe.Sizeof(bufferInfo{}))
	reqDequeueBuf  = ioWR('V', 17, unsafe.Sizeof(bufferInfo{}))
	reqStreamOn    = ioW('V', 18, unsafe.Sizeof(int32(0)))
	reqStreamOff   = ioW('V', 19, unsafe.Sizeof(int32(0)))
)
