package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/config"
	"bioimagelab/pkg/imageio"
	"bioimagelab/pkg/pipeline"
	"bioimagelab/pkg/store"
)

// export writes the run summary and the results of succeeded images into
// dir. Failed and skipped images only appear in the summary.
func export(ctx context.Context, dir string, cfg *config.Config, s *pipeline.RunSummary, log zerolog.Logger) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	for _, r := range s.Results {
		if r.Status != pipeline.Succeeded {
			continue
		}
		base := baseName(r)
		if cfg.Output.SaveLabelImages && r.Labels != nil {
			if err := writeLabels(dir, base, r); err != nil {
				return err
			}
		}
		if cfg.Output.SaveArtifacts {
			if err := writeArtifacts(dir, base, r); err != nil {
				return err
			}
		}
	}

	if cfg.Output.Database == "" {
		return nil
	}
	path := cfg.Output.Database
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	db, err := store.Open(path, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SaveRun(ctx, s); err != nil {
		return err
	}
	log.Info().Str("database", path).Int("images", len(s.Results)).Msg("results stored")
	return nil
}

// baseName derives a file prefix from the source name. The input index
// keeps sources with equal names apart.
func baseName(r pipeline.ImageResult) string {
	name := strings.TrimSuffix(filepath.Base(r.Source), filepath.Ext(r.Source))
	return fmt.Sprintf("%03d_%s", r.Index, name)
}

func writeLabels(dir, base string, r pipeline.ImageResult) error {
	if _, err := imageio.WriteOverlays(filepath.Join(dir, "overlays"), base, r.Image, r.Labels, 0); err != nil {
		return fmt.Errorf("writing overlays of %s: %w", r.Source, err)
	}
	for t := 0; t < r.Labels.Shape.T; t++ {
		for z := 0; z < r.Labels.Shape.Z; z++ {
			p := filepath.Join(dir, "labels", fmt.Sprintf("%s_t%03d_z%03d.png", base, t, z))
			if err := imageio.WritePNG(p, imageio.LabelImage(r.Labels, t, z)); err != nil {
				return fmt.Errorf("writing labels of %s: %w", r.Source, err)
			}
		}
	}
	return nil
}

// writeArtifacts saves the final intensity image and every image artifact
// plane by plane.
func writeArtifacts(dir, base string, r pipeline.ImageResult) error {
	target := filepath.Join(dir, "artifacts", base)
	if err := writeStackPlanes(target, "image", r.Image); err != nil {
		return fmt.Errorf("writing image of %s: %w", r.Source, err)
	}
	if r.Artifacts == nil {
		return nil
	}
	for _, name := range r.Artifacts.Names() {
		img, _ := r.Artifacts.Image(name)
		if err := writeStackPlanes(target, name, img); err != nil {
			return fmt.Errorf("writing artifact %s of %s: %w", name, r.Source, err)
		}
	}
	return nil
}

func writeStackPlanes(dir, name string, img *models.ImageStack) error {
	return img.EachPlane(func(t, z, c int, _ []float64) error {
		p := filepath.Join(dir, fmt.Sprintf("%s_t%03d_z%03d_c%03d.png", name, t, z, c))
		return imageio.WritePNG(p, imageio.PlaneImage(img, t, z, c))
	})
}
