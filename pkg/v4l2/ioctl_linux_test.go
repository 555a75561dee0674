//go:build linux && (amd64 || arm64)

package v4l2

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// Os números de ioctl precisam bater byte a byte com os da UAPI; qualquer
// divergência de layout nas structs muda o campo de tamanho e o kernel
// devolve ENOTTY.
func TestIoctlNumbersMatchUAPI(t *testing.T) {
	assert.Equal(t, uintptr(0x80685600), reqQueryCap, "VIDIOC_QUERYCAP")
	assert.Equal(t, uintptr(0xc0d05604), reqGetFormat, "VIDIOC_G_FMT")
	assert.Equal(t, uintptr(0xc0d05605), reqSetFormat, "VIDIOC_S_FMT")
	assert.Equal(t, uintptr(0xc0145608), reqRequestBufs, "VIDIOC_REQBUFS")
	assert.Equal(t, uintptr(0xc058560f), reqQueueBuf, "VIDIOC_QBUF")
	assert.Equal(t, uintptr(0xc0585611), reqDequeueBuf, "VIDIOC_DQBUF")
	assert.Equal(t, uintptr(0x40045612), reqStreamOn, "VIDIOC_STREAMON")
	assert.Equal(t, uintptr(0x40045613), reqStreamOff, "VIDIOC_STREAMOFF")
}

func TestStructSizes(t *testing.T) {
	assert.Equal(t, uintptr(104), unsafe.Sizeof(capability{}))
	assert.Equal(t, uintptr(208), unsafe.Sizeof(format{}))
	assert.Equal(t, uintptr(20), unsafe.Sizeof(requestBuffers{}))
	assert.Equal(t, uintptr(88), unsafe.Sizeof(bufferInfo{}))
}

func TestCstr(t *testing.T) {
	assert.Equal(t, "uvcvideo", cstr([]byte("uvcvideo\x00\x00\x00")))
	assert.Equal(t, "abc", cstr([]byte("abc")))
	assert.Equal(t, "", cstr([]byte{0}))
}
