package alsa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// PcmDevice is one PCM stream endpoint exposed by a card.
type PcmDevice struct {
	Card        int
	Device      int
	Description string
	Direction   Direction
}

// Name returns the "hw:C,D" name accepted by PcmOpenByName.
func (d PcmDevice) Name() string {
	return fmt.Sprintf("hw:%d,%d", d.Card, d.Device)
}

// Flags returns the PcmOpen flags selecting the device's direction.
func (d PcmDevice) Flags() PcmFlag {
	if d.Direction == Capture {
		return PCM_IN
	}

	return PCM_OUT
}

func (d PcmDevice) String() string {
	return fmt.Sprintf("  %s: %s [%s]", d.Name(), d.Description, d.Direction)
}

// Card is a sound card listed in /proc/asound/cards.
type Card struct {
	ID          int
	Name        string
	Description string
	Devices     []PcmDevice
}

func (c Card) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Card %d: %s (%s)\n", c.ID, c.Name, c.Description)
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

const (
	procCards = "/proc/asound/cards"
	procPcm   = "/proc/asound/pcm"
)

var (
	// " 0 [Loopback       ]: Loopback - Loopback"
	cardLine = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*)`)
	// "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmLine = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :(.*)`)
)

// Cards lists the sound cards and their PCM streams, sorted by card number.
func Cards() ([]Card, error) {
	cf, err := os.Open(procCards)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", procCards, err)
	}
	defer cf.Close()

	pf, err := os.Open(procPcm)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", procPcm, err)
	}
	defer pf.Close()

	return parseCards(cf, pf)
}

// FindCard returns the number of the first card whose name contains name, or -1.
func FindCard(name string) int {
	cards, err := Cards()
	if err != nil {
		return -1
	}

	for _, c := range cards {
		if strings.Contains(c.Name, name) || strings.Contains(c.Description, name) {
			return c.ID
		}
	}

	return -1
}

func parseCards(cards, pcms io.Reader) ([]Card, error) {
	byID := make(map[int]*Card)

	sc := bufio.NewScanner(cards)
	for sc.Scan() {
		m := cardLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}

		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		byID[id] = &Card{ID: id, Name: m[2], Description: strings.TrimSpace(m[3])}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading card list: %w", err)
	}

	sc = bufio.NewScanner(pcms)
	for sc.Scan() {
		m := pcmLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}

		cardID, _ := strconv.Atoi(m[1])
		devID, _ := strconv.Atoi(m[2])

		card, ok := byID[cardID]
		if !ok {
			continue
		}

		dev := PcmDevice{Card: cardID, Device: devID, Description: strings.TrimSpace(m[3])}

		// One device number can carry both streams.
		if strings.Contains(m[4], "playback") {
			dev.Direction = Playback
			card.Devices = append(card.Devices, dev)
		}
		if strings.Contains(m[4], "capture") {
			dev.Direction = Capture
			card.Devices = append(card.Devices, dev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading PCM list: %w", err)
	}

	result := make([]Card, 0, len(byID))
	for _, c := range byID {
		result = append(result, *c)
	}
	slices.SortFunc(result, func(a, b Card) int { return a.ID - b.ID })

	return result, nil
}
