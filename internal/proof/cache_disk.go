package proof

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
)

// SetCacheDir points the package-level setup cache at an on-disk directory,
// creating it if necessary. Once set, a setup that already has a ccs/pk/vk
// triple on disk skips the expensive Setup() call entirely; a setup that
// misses writes its result back for next time. An empty dir (the default)
// disables disk persistence and keeps setups in memory only, scoped to the
// process. Saves/loads CCS and key files the same way gnark's own ceremony
// tooling does (ccs.WriteTo/ReadFrom against *os.File).
func SetCacheDir(dir string) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("proof: create cache dir: %w", err)
		}
	}
	globalCache.mu.Lock()
	globalCache.dir = dir
	globalCache.mu.Unlock()
	return nil
}

func setupPaths(dir, backend string, key [32]byte) (ccsPath, pkPath, vkPath string) {
	base := filepath.Join(dir, fmt.Sprintf("%s-%x", backend, key))
	return base + ".ccs", base + ".pk", base + ".vk"
}

func writeFileFrom(path string, v io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("proof: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := v.WriteTo(f); err != nil {
		return fmt.Errorf("proof: write %s: %w", path, err)
	}
	return nil
}

func readFileInto(path string, v io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := v.ReadFrom(f); err != nil {
		return fmt.Errorf("proof: read %s: %w", path, err)
	}
	return nil
}

func loadGroth16Disk(dir string, key [32]byte) (*groth16Setup, bool) {
	if dir == "" {
		return nil, false
	}
	ccsPath, pkPath, vkPath := setupPaths(dir, "groth16", key)

	ccs := groth16.NewCS(ecc.BN254)
	if err := readFileInto(ccsPath, ccs); err != nil {
		return nil, false
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readFileInto(pkPath, pk); err != nil {
		return nil, false
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFileInto(vkPath, vk); err != nil {
		return nil, false
	}
	return &groth16Setup{ccs: ccs, pk: pk, vk: vk}, true
}

func saveGroth16Disk(dir string, key [32]byte, s *groth16Setup) {
	if dir == "" {
		return
	}
	ccsPath, pkPath, vkPath := setupPaths(dir, "groth16", key)
	if err := writeFileFrom(ccsPath, s.ccs); err != nil {
		return
	}
	if err := writeFileFrom(pkPath, s.pk); err != nil {
		return
	}
	_ = writeFileFrom(vkPath, s.vk)
}

func loadPlonkDisk(dir string, key [32]byte) (*plonkSetup, bool) {
	if dir == "" {
		return nil, false
	}
	ccsPath, pkPath, vkPath := setupPaths(dir, "plonk", key)

	ccs := plonk.NewCS(ecc.BN254)
	if err := readFileInto(ccsPath, ccs); err != nil {
		return nil, false
	}
	pk := plonk.NewProvingKey(ecc.BN254)
	if err := readFileInto(pkPath, pk); err != nil {
		return nil, false
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if err := readFileInto(vkPath, vk); err != nil {
		return nil, false
	}
	return &plonkSetup{ccs: ccs, pk: pk, vk: vk}, true
}

func savePlonkDisk(dir string, key [32]byte, s *plonkSetup) {
	if dir == "" {
		return
	}
	ccsPath, pkPath, vkPath := setupPaths(dir, "plonk", key)
	if err := writeFileFrom(ccsPath, s.ccs); err != nil {
		return
	}
	if err := writeFileFrom(pkPath, s.pk); err != nil {
		return
	}
	_ = writeFileFrom(vkPath, s.vk)
}
