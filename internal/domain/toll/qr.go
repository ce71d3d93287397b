package toll

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// UnknownRoad is the road id used when a QR payload carries none.
const UnknownRoad = "unknown"

// QRPayload is the content of a toll booth QR code.
type QRPayload struct {
	TollID string
	Name   string
	Fee    decimal.Decimal
	RoadID string
}

type qrWire struct {
	TollID string          `json:"tollId"`
	Name   string          `json:"name"`
	Fee    json.RawMessage `json:"fee"`
	RoadID string          `json:"roadId,omitempty"`
}

// DriverPayload is the content of a driver's session QR code.
type DriverPayload struct {
	DriverAddress string `json:"driverAddress"`
	SessionID     string `json:"sessionId"`
	Type          string `json:"type"`
}

// ParseQR decodes a toll QR payload. tollId and name are required and fee
// must be a JSON number; a missing roadId becomes UnknownRoad.
func ParseQR(data string) (QRPayload, error) {
	var w qrWire
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return QRPayload{}, fmt.Errorf("%w: %v", ErrInvalidQR, err)
	}
	if w.TollID == "" || w.Name == "" {
		return QRPayload{}, fmt.Errorf("%w: tollId and name are required", ErrInvalidQR)
	}
	raw := bytes.TrimSpace(w.Fee)
	if len(raw) == 0 || !(raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		return QRPayload{}, fmt.Errorf("%w: fee must be a number", ErrInvalidQR)
	}
	fee, err := decimal.NewFromString(string(raw))
	if err != nil {
		return QRPayload{}, fmt.Errorf("%w: fee: %v", ErrInvalidQR, err)
	}

	road := w.RoadID
	if road == "" {
		road = UnknownRoad
	}
	return QRPayload{TollID: w.TollID, Name: w.Name, Fee: fee, RoadID: road}, nil
}

// GenerateQR encodes a toll QR payload.
func GenerateQR(p QRPayload) (string, error) {
	data, err := json.Marshal(qrWire{
		TollID: p.TollID,
		Name:   p.Name,
		Fee:    json.RawMessage(p.Fee.String()),
		RoadID: p.RoadID,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseDriverQR decodes a driver session QR payload.
func ParseDriverQR(data string) (DriverPayload, error) {
	var p DriverPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return DriverPayload{}, fmt.Errorf("%w: %v", ErrInvalidQR, err)
	}
	if p.DriverAddress == "" || p.SessionID == "" {
		return DriverPayload{}, fmt.Errorf("%w: driverAddress and sessionId are required", ErrInvalidQR)
	}
	return p, nil
}

// QRPNG renders content as a PNG QR code of size x size pixels.
func QRPNG(content string, size int) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
