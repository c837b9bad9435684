package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shmcast/shmcast/internal/config"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the running host daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := config.Get().Host.ListenAddress
		client := &http.Client{Timeout: 3 * time.Second}

		resp, err := client.Get("http://" + addr + "/api/v1/status")
		if err != nil {
			return fmt.Errorf("host daemon not reachable at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var st struct {
			Session     string `json:"session"`
			State       string `json:"guest_state"`
			GuestPID    uint32 `json:"guest_pid"`
			Width       uint32 `json:"width"`
			Height      uint32 `json:"height"`
			Format      string `json:"format"`
			FrameNumber uint64 `json:"frame_number"`
			Stalled     bool   `json:"stalled"`
			Degraded    bool   `json:"degraded"`
			AudioDrops  uint64 `json:"audio_dropped_chunks"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		if statusJSON {
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("session:  %s\n", st.Session)
		fmt.Printf("guest:    %s (pid %d)\n", st.State, st.GuestPID)
		fmt.Printf("geometry: %dx%d %s\n", st.Width, st.Height, st.Format)
		fmt.Printf("frames:   %d\n", st.FrameNumber)
		if st.Stalled {
			fmt.Println("warning:  guest is stalled")
		}
		if st.Degraded {
			fmt.Println("warning:  running with a degraded buffer count")
		}
		if st.AudioDrops > 0 {
			fmt.Printf("warning:  %d audio chunks dropped\n", st.AudioDrops)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print raw JSON")
	rootCmd.AddCommand(statusCmd)
}
