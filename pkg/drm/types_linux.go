//go:build linux && (amd64 || arm64)

package drm

import "unsafe"

// Layout binário das structs da UAPI drm em linux 64-bit. Ponteiros de
// userspace viajam como uint64, como a UAPI define.

type version struct {
	Major   int32
	Minor   int32
	Patch   int32
	_       int32
	NameLen uint64
	Name    uint64
	DateLen uint64
	Date    uint64
	DescLen uint64
	Desc    uint64
}

type cardRes struct {
	FbIDPtr        uint64
	CrtcIDPtr      uint64
	ConnectorIDPtr uint64
	EncoderIDPtr   uint64
	CountFbs       uint32
	CountCrtcs     uint32
	CountConnectors uint32
	CountEncoders  uint32
	MinWidth       uint32
	MaxWidth       uint32
	MinHeight      uint32
	MaxHeight      uint32
}

type modeInfo struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

type getConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MmWidth         uint32
	MmHeight        uint32
	Subpixel        uint32
	_               uint32
}

type getEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type modeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FbID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             modeInfo
}

type planeRes struct {
	PlaneIDPtr  uint64
	CountPlanes uint32
	_           uint32
}

type getPlane struct {
	PlaneID          uint32
	CrtcID           uint32
	FbID             uint32
	PossibleCrtcs    uint32
	GammaSize        uint32
	CountFormatTypes uint32
	FormatTypePtr    uint64
}

type createDumb struct {
	Height uint32
	Width  uint32
	Bpp    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type destroyDumb struct {
	Handle uint32
}

type primeHandle struct {
	Handle uint32
	Flags  uint32
	Fd     int32
}

type fbCmd2 struct {
	FbID        uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Flags       uint32
	Handles     [4]uint32
	Pitches     [4]uint32
	Offsets     [4]uint32
	_           uint32
	Modifier    [4]uint64
}

type setPlane struct {
	PlaneID uint32
	CrtcID  uint32
	FbID    uint32
	Flags   uint32
	CrtcX   int32
	CrtcY   int32
	CrtcW   uint32
	CrtcH   uint32
	// Retângulo de origem em ponto fixo 16.16, com altura antes da largura
	// como a UAPI manda.
	SrcX uint32
	SrcY uint32
	SrcH uint32
	SrcW uint32
}

const connectionConnected = 1

var (
	reqVersion           = ioWR('d', 0x00, unsafe.Sizeof(version{}))
	reqPrimeHandleToFd   = ioWR('d', 0x2d, unsafe.Sizeof(primeHandle{}))
	reqModeGetResources  = ioWR('d', 0xa0, unsafe.Sizeof(cardRes{}))
	reqModeGetCrtc       = ioWR('d', 0xa1, unsafe.Sizeof(modeCrtc{}))
	reqModeGetEncoder    = ioWR('d', 0xa6, unsafe.Sizeof(getEncoder{}))
	reqModeGetConnector  = ioWR('d', 0xa7, unsafe.Sizeof(getConnector{}))
	reqModeRmFb          = ioWR('d', 0xaf, unsafe.Sizeof(uint32(0)))
	reqModeCreateDumb    = ioWR('d', 0xb2, unsafe.Sizeof(createDumb{}))
	reqModeDestroyDumb   = ioWR('d', 0xb4, unsafe.Sizeof(destroyDumb{}))
	reqModeGetPlaneRes   = ioWR('d', 0xb5, unsafe.Sizeof(planeRes{}))
	reqModeGetPlane      = ioWR('d', 0xb6, unsafe.Sizeof(getPlane{}))
	reqModeSetPlane      = ioWR('d', 0xb7, unsafe.Sizeof(setPlane{}))
	reqModeAddFb2        = ioWR('d', 0xb8, unsafe.Sizeof(fbCmd2{}))
)
