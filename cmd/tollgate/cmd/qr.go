package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tollgate-labs/tollgate/internal/domain/toll"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Print or render a toll booth QR payload",
	Long: `Print the QR payload of a catalog checkpoint, optionally rendering it
as a PNG, or decode a scanned payload.

Examples:
  # Print the payload of a checkpoint
  tollgate qr --toll TOLL_01

  # Render it to a file
  tollgate qr --toll TOLL_01 --out booth.png

  # Decode a scanned toll or driver payload
  tollgate qr --decode '{"tollId":"T1","name":"Bridge","fee":2.5}'`,
	RunE: runQR,
}

var (
	qrToll   string
	qrOut    string
	qrSize   int
	qrDecode string
)

func init() {
	qrCmd.Flags().StringVar(&qrToll, "toll", "", "Checkpoint id from the route catalog")
	qrCmd.Flags().StringVar(&qrOut, "out", "", "Write a PNG to this path")
	qrCmd.Flags().IntVar(&qrSize, "size", 256, "PNG size in pixels")
	qrCmd.Flags().StringVar(&qrDecode, "decode", "", "Decode a scanned payload instead")
	rootCmd.AddCommand(qrCmd)
}

func runQR(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if qrDecode != "" {
		return decodeQR(out, qrDecode)
	}
	if qrToll == "" {
		return errors.New("--toll or --decode is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg.Toll.RoutesFile)
	if err != nil {
		return err
	}

	payload, err := tollQR(catalog, qrToll)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, payload)

	if qrOut == "" {
		return nil
	}
	png, err := toll.QRPNG(payload, qrSize)
	if err != nil {
		return err
	}
	if err := os.WriteFile(qrOut, png, 0644); err != nil {
		return fmt.Errorf("write %s: %w", qrOut, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "QR code written to %s\n", qrOut)
	return nil
}

// tollQR returns the booth payload for a catalog checkpoint.
func tollQR(catalog *toll.Catalog, tollID string) (string, error) {
	route, cp, err := catalog.Checkpoint(tollID)
	if err != nil {
		return "", err
	}
	return toll.GenerateQR(toll.QRPayload{
		TollID: cp.ID,
		Name:   cp.Name,
		Fee:    cp.Fee,
		RoadID: route.Road,
	})
}

// decodeQR prints a toll payload or, failing that, a driver payload.
func decodeQR(out io.Writer, data string) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if p, err := toll.ParseQR(data); err == nil {
		return enc.Encode(map[string]any{
			"type":    "toll",
			"toll_id": p.TollID,
			"name":    p.Name,
			"fee":     p.Fee,
			"road_id": p.RoadID,
		})
	}
	d, err := toll.ParseDriverQR(data)
	if err != nil {
		return err
	}
	return enc.Encode(map[string]any{
		"type":           "driver",
		"driver_address": d.DriverAddress,
		"session_id":     d.SessionID,
	})
}
