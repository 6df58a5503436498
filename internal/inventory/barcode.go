package inventory

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const barcodePrefix = "PU1"

// BarcodeMetadata is embedded into generated codes.
type BarcodeMetadata struct {
	ProductID uuid.UUID
	Serial    string
	Specs     UnitSpecs
}

// BarcodeGenerator assigns a code to a freshly inserted unit.
type BarcodeGenerator interface {
	Generate(unitID uuid.UUID, meta BarcodeMetadata) (string, error)
}

// BarcodeData is the decoded form of a generated code.
type BarcodeData struct {
	UnitID  uuid.UUID
	Serial  string
	Color   string
	Storage string
	RAM     string
}

// ErrInvalidBarcode indicates a code that was not produced by CodeGenerator.
var ErrInvalidBarcode = errors.New("inventory: invalid barcode")

// CodeGenerator produces PU1:<unit>:<serial>:<color>/<storage>/<ram>:<check>.
// The unit id makes codes collision free; the check character catches
// transcription errors when codes are typed by hand.
type CodeGenerator struct{}

// Generate implements BarcodeGenerator.
func (CodeGenerator) Generate(unitID uuid.UUID, meta BarcodeMetadata) (string, error) {
	if unitID == uuid.Nil {
		return "", errors.New("inventory: barcode requires unit id")
	}
	serial := NormalizeSerial(meta.Serial)
	if serial == "" {
		return "", errors.New("inventory: barcode requires serial number")
	}
	specs := strings.Join([]string{
		url.QueryEscape(meta.Specs.Color),
		url.QueryEscape(meta.Specs.Storage),
		url.QueryEscape(meta.Specs.RAM),
	}, "/")
	body := strings.Join([]string{
		barcodePrefix,
		strings.ReplaceAll(unitID.String(), "-", ""),
		url.QueryEscape(serial),
		specs,
	}, ":")
	return body + ":" + string(checkChar(body)), nil
}

// ParseBarcode decodes a code produced by CodeGenerator.
func ParseBarcode(code string) (BarcodeData, error) {
	idx := strings.LastIndex(code, ":")
	if idx <= 0 || idx != len(code)-2 {
		return BarcodeData{}, ErrInvalidBarcode
	}
	body := code[:idx]
	if checkChar(body) != code[idx+1] {
		return BarcodeData{}, fmt.Errorf("%w: check character mismatch", ErrInvalidBarcode)
	}
	parts := strings.Split(body, ":")
	if len(parts) != 4 || parts[0] != barcodePrefix {
		return BarcodeData{}, ErrInvalidBarcode
	}
	unitID, err := uuid.Parse(parts[1])
	if err != nil {
		return BarcodeData{}, fmt.Errorf("%w: %v", ErrInvalidBarcode, err)
	}
	serial, err := url.QueryUnescape(parts[2])
	if err != nil {
		return BarcodeData{}, fmt.Errorf("%w: %v", ErrInvalidBarcode, err)
	}
	specs := strings.Split(parts[3], "/")
	if len(specs) != 3 {
		return BarcodeData{}, ErrInvalidBarcode
	}
	data := BarcodeData{UnitID: unitID, Serial: serial}
	fields := []*string{&data.Color, &data.Storage, &data.RAM}
	for i, raw := range specs {
		v, err := url.QueryUnescape(raw)
		if err != nil {
			return BarcodeData{}, fmt.Errorf("%w: %v", ErrInvalidBarcode, err)
		}
		*fields[i] = v
	}
	return data, nil
}

const checkAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func checkChar(body string) byte {
	sum := 0
	for i := 0; i < len(body); i++ {
		sum += int(body[i]) * (i%7 + 1)
	}
	return checkAlphabet[sum%len(checkAlphabet)]
}
