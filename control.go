package alsa

// ControlView is a read/write view of the kernel's control page.
//
// ApplPtr is the only value this package writes into kernel memory. The kernel picks a new
// value up on its next period interrupt or on a syscall such as HWSYNC; a cursor that falls
// behind is reported later as SNDRV_PCM_STATE_XRUN on the status page.
type ControlView struct {
	region  *Region
	control *sndPcmMmapControl
}

// OpenControl maps the control page of an open PCM device read/write.
func OpenControl(fd uintptr) (*ControlView, error) {
	region, err := mapElements[sndPcmMmapControl](fd, 1, mmapOffsetControl, true)
	if err != nil {
		return nil, err
	}

	return &ControlView{region: region, control: regionAs[sndPcmMmapControl](region)}, nil
}

// ApplPtr returns the application cursor in frames.
func (c *ControlView) ApplPtr() Frames {
	return loadUframes(&c.control.ApplPtr)
}

// SetApplPtr publishes a new application cursor. The value must already be below the boundary.
func (c *ControlView) SetApplPtr(frames Frames) {
	storeUframes(&c.control.ApplPtr, frames)
}

// AvailMin returns the number of available frames needed to wake up a poller.
func (c *ControlView) AvailMin() Frames {
	return loadUframes(&c.control.AvailMin)
}

// SetAvailMin sets the wakeup threshold.
func (c *ControlView) SetAvailMin(frames Frames) {
	storeUframes(&c.control.AvailMin, frames)
}

// Close unmaps the control page. The view must not be used afterwards.
func (c *ControlView) Close() error {
	c.control = nil

	return c.region.Close()
}
