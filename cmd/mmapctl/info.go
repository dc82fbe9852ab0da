package main

import (
	"fmt"

	"github.com/spf13/cobra"

	alsa "github.com/gen2brain/alsa-mmap"
)

func newInfoCmd(a *app) *cobra.Command {
	var (
		list   bool
		stream string
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show device capabilities and whether they allow direct mmap access",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if list {
				cards, err := alsa.Cards()
				if err != nil {
					return err
				}

				for _, c := range cards {
					fmt.Fprint(out, c)
				}

				return nil
			}

			var flags alsa.PcmFlag
			switch stream {
			case "playback":
				flags = alsa.PCM_OUT
			case "capture":
				flags = alsa.PCM_IN
			default:
				return fmt.Errorf("invalid stream direction %q, must be playback or capture", stream)
			}

			params, err := alsa.PcmParamsGetRefined(uint(a.opts.Card), uint(a.opts.Device), flags)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "PCM %s, stream %s:\n", a.pcmName(), stream)
			fmt.Fprint(out, params)

			if !params.SupportsDirectMmap() {
				a.logger.Warn("Device does not offer interleaved mmap access", "pcm", a.pcmName())
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List sound cards and their PCM devices")
	cmd.Flags().StringVar(&stream, "stream", "playback", "Stream direction (playback or capture)")

	return cmd
}
