package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/erazemk/nxledger/internal/model"
)

// cartEntry is one line of a YAML cart.
type cartEntry struct {
	NXID     string `yaml:"nxid"`
	Quantity int    `yaml:"quantity,omitempty"`
	Serial   string `yaml:"serial,omitempty"`
}

// Manifest describes containers and their contents as exported from
// another system.
type Manifest struct {
	By         string          `yaml:"by"`
	Containers []manifestEntry `yaml:"containers"`
}

type manifestEntry struct {
	Kind       string            `yaml:"kind"`
	Tag        string            `yaml:"tag"`
	Building   int               `yaml:"building"`
	Location   string            `yaml:"location"`
	PalletTag  string            `yaml:"pallet_tag"`
	Notes      string            `yaml:"notes"`
	Attributes map[string]string `yaml:"attributes"`
	Parts      []cartEntry       `yaml:"parts"`
}

func cartItems(entries []cartEntry) []model.CartItem {
	if entries == nil {
		return nil
	}
	items := make([]model.CartItem, len(entries))
	for i, e := range entries {
		items[i] = model.CartItem{NXID: e.NXID, Quantity: e.Quantity, Serial: e.Serial}
	}
	return items
}

// openInput opens path for reading, or stdin for "-".
func openInput(in io.Reader, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(in), nil
	}
	return os.Open(path)
}

func decodeYAML(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding yaml: %w", err)
	}
	return nil
}

// readCart reads a YAML list of cart entries.
func readCart(in io.Reader, path string) ([]model.CartItem, error) {
	f, err := openInput(in, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []cartEntry
	if err := decodeYAML(f, &entries); err != nil {
		return nil, err
	}
	items := cartItems(entries)
	if items == nil {
		items = []model.CartItem{}
	}
	return items, nil
}

// readManifest reads a container manifest.
func readManifest(in io.Reader, path string) (*Manifest, error) {
	f, err := openInput(in, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	if err := decodeYAML(f, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
