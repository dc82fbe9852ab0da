package alsa

import (
	"syscall"
	"unsafe"
)

// ioctl performs a generic ioctl syscall.
func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}

	return nil
}

const (
	iocNrbits    = 8
	iocTypebits  = 8
	iocSizebits  = 14
	iocNrshift   = 0
	iocTypeshift = iocNrshift + iocNrbits
	iocSizeshift = iocTypeshift + iocTypebits
	iocDirshift  = iocSizeshift + iocSizebits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

// ioc builds an ioctl request code the way the _IOC macro does.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (size << iocSizeshift)
}

func ion(typ, nr uintptr) uintptr        { return ioc(iocNone, typ, nr, 0) }
func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

var (
	SNDRV_PCM_IOCTL_INFO         uintptr
	SNDRV_PCM_IOCTL_TTSTAMP      uintptr
	SNDRV_PCM_IOCTL_HW_REFINE    uintptr
	SNDRV_PCM_IOCTL_HW_PARAMS    uintptr
	SNDRV_PCM_IOCTL_HW_FREE      uintptr
	SNDRV_PCM_IOCTL_SW_PARAMS    uintptr
	SNDRV_PCM_IOCTL_DELAY        uintptr
	SNDRV_PCM_IOCTL_HWSYNC       uintptr
	SNDRV_PCM_IOCTL_CHANNEL_INFO uintptr
	SNDRV_PCM_IOCTL_PREPARE      uintptr
	SNDRV_PCM_IOCTL_START        uintptr
	SNDRV_PCM_IOCTL_DROP         uintptr
	SNDRV_PCM_IOCTL_DRAIN        uintptr
	SNDRV_PCM_IOCTL_RESUME       uintptr
)

func init() {
	SNDRV_PCM_IOCTL_INFO = ior('A', 0x01, unsafe.Sizeof(sndPcmInfo{}))
	SNDRV_PCM_IOCTL_TTSTAMP = iow('A', 0x03, unsafe.Sizeof(int32(0)))

	SNDRV_PCM_IOCTL_HW_REFINE = iowr('A', 0x10, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_HW_PARAMS = iowr('A', 0x11, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_HW_FREE = ion('A', 0x12)
	SNDRV_PCM_IOCTL_SW_PARAMS = iowr('A', 0x13, unsafe.Sizeof(sndPcmSwParams{}))

	SNDRV_PCM_IOCTL_DELAY = ior('A', 0x21, unsafe.Sizeof(SndPcmSframesT(0)))
	SNDRV_PCM_IOCTL_HWSYNC = ion('A', 0x22)

	// The kernel reads Channel and fills in the rest, despite the _IOR direction.
	SNDRV_PCM_IOCTL_CHANNEL_INFO = ior('A', 0x32, unsafe.Sizeof(sndPcmChannelInfo{}))

	SNDRV_PCM_IOCTL_PREPARE = ion('A', 0x40)
	SNDRV_PCM_IOCTL_START = ion('A', 0x42)
	SNDRV_PCM_IOCTL_DROP = ion('A', 0x43)
	SNDRV_PCM_IOCTL_DRAIN = ion('A', 0x44)
	SNDRV_PCM_IOCTL_RESUME = ion('A', 0x47)
}
