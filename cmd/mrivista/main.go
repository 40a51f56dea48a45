package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"mrivista/pkg/config"
	"mrivista/pkg/stats"
	"mrivista/pkg/value"
	"mrivista/pkg/vista"
	"mrivista/pkg/visualization"
	"mrivista/pkg/volume"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Vista file to read (.v or .v.gz)")
	outputPath := flag.String("output", "", "Write the images read to this Vista file")
	configPath := flag.String("config", "mrivista.yaml", "Configuration file")
	dialect := flag.String("dialect", "", "Force a dialect: anatomical, functional or map (overrides config)")
	info := flag.Bool("info", false, "Print size, type, orientation and statistics of every image")
	props := flag.Bool("props", false, "Print the image properties as YAML")
	verify := flag.Bool("verify", false, "Write every image to a temporary file, read it back and compare")
	slicesDir := flag.String("slices-dir", "", "Save JPEG slice previews along all axes to this directory (overrides config)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration file and exit")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if *dialect != "" {
		cfg.Codec.Dialect = *dialect
	}
	if *slicesDir != "" {
		cfg.Output.SlicesDir = *slicesDir
	}
	level, err := cfg.Level()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.SetLevel(level)

	d, err := vista.ParseDialect(cfg.Codec.Dialect)
	if err != nil {
		log.Fatalf("Invalid dialect: %v", err)
	}
	opts := []vista.Option{
		vista.WithDialect(d),
		vista.WithLogger(log),
		vista.WithMaxVoxels(cfg.Codec.MaxVoxels),
		vista.WithCompression(cfg.Codec.Compress),
	}

	startTime := time.Now()
	images, rep, err := vista.ReadImageFile(*inputPath, opts...)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *inputPath, err)
	}
	log.WithFields(logrus.Fields{
		"images":   len(images),
		"warnings": len(rep.Warnings()),
		"elapsed":  time.Since(startTime).Round(time.Millisecond),
	}).Info("read complete")

	for i, img := range images {
		if *info {
			if err := printInfo(i, img); err != nil {
				log.Errorf("Image %d: %v", i, err)
			}
		}
		if *props {
			out, err := yaml.Marshal(img.Properties())
			if err != nil {
				log.Errorf("Image %d: %v", i, err)
				continue
			}
			fmt.Printf("--- image %d\n%s", i, out)
		}
		if *verify {
			if err := verifyImage(i, img, opts, log); err != nil {
				log.Errorf("Image %d failed verification: %v", i, err)
			}
		}
		if dir, ok := previewDir(cfg, i); ok {
			if err := saveSlices(img, dir, cfg.Output.SliceQuality, log); err != nil {
				log.Warnf("Image %d: failed to save slices: %v", i, err)
			}
		}
	}

	if *outputPath != "" {
		if len(images) > 1 {
			log.Warnf("%d images read, writing only the first to %s", len(images), *outputPath)
		}
		if _, err := vista.WriteFile(*outputPath, images[0], opts...); err != nil {
			log.Fatalf("Failed to write %s: %v", *outputPath, err)
		}
		if st, err := os.Stat(*outputPath); err == nil {
			fmt.Printf("Output saved to: %s (%s)\n", *outputPath, humanize.Bytes(uint64(st.Size())))
		}
	}
}

// previewDir returns where the slice previews of image index go, if previews
// are enabled by flag or config
func previewDir(cfg *config.Config, index int) (string, bool) {
	if cfg.Output.SlicesDir == "" {
		return "", false
	}
	return filepath.Join(cfg.Output.SlicesDir, fmt.Sprintf("image_%02d", index)), true
}

// printInfo prints a summary of one image
func printInfo(index int, img *volume.Image) error {
	s, err := stats.Summarize(img)
	if err != nil {
		return err
	}
	orient, err := img.MainOrientation()
	orientation := orient.String()
	if err != nil {
		orientation = "unknown (" + err.Error() + ")"
	}
	bytesPerVoxel := uint64(8)
	switch s.Type {
	case value.TypeBool, value.TypeInt8, value.TypeUint8:
		bytesPerVoxel = 1
	case value.TypeInt16, value.TypeUint16:
		bytesPerVoxel = 2
	case value.TypeInt32, value.TypeUint32, value.TypeFloat32:
		bytesPerVoxel = 4
	}

	fmt.Printf("Image %d\n", index)
	fmt.Printf("=======================================\n")
	fmt.Printf("Size:        %s (%s voxels, %s)\n", s.Size, humanize.Comma(int64(s.Voxels)), humanize.Bytes(uint64(s.Voxels)*bytesPerVoxel))
	fmt.Printf("Type:        %s\n", s.Type)
	fmt.Printf("Chunks:      %d\n", img.Len())
	fmt.Printf("Orientation: %s\n", orientation)
	fmt.Printf("Range:       [%g, %g]\n", s.Min, s.Max)
	fmt.Printf("Mean:        %.3f (std %.3f)\n", s.Mean, s.StdDev)
	fmt.Printf("Entropy:     %.3f bits\n\n", s.Entropy)
	return nil
}

// verifyImage writes img to a temporary file, reads it back and compares
// voxels and geometry
func verifyImage(index int, img *volume.Image, opts []vista.Option, log logrus.FieldLogger) error {
	dir, err := os.MkdirTemp("", "mrivista-verify-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "verify.v")
	if _, err := vista.WriteFile(path, img, opts...); err != nil {
		return err
	}
	back, _, err := vista.ReadImageFile(path, opts...)
	if err != nil {
		return err
	}
	cmp, err := stats.Compare(img, back[0])
	if err != nil {
		return err
	}
	ta, err := img.Transform()
	if err != nil {
		return err
	}
	tb, err := back[0].Transform()
	if err != nil {
		return err
	}
	geometryOK := mat.EqualApprox(ta, tb, 1e-6)

	log.WithFields(logrus.Fields{
		"image":    index,
		"rmse":     cmp.RMSE,
		"maxDiff":  cmp.MaxAbsDiff,
		"ssim":     cmp.SSIM,
		"geometry": geometryOK,
	}).Info("verification")
	if !geometryOK {
		return fmt.Errorf("geometry changed")
	}
	if !cmp.Identical() {
		return fmt.Errorf("voxels changed (rmse %g)", cmp.RMSE)
	}
	fmt.Printf("Image %d verified: round trip is lossless\n", index)
	return nil
}

// saveSlices saves previews of the first time point along every axis
func saveSlices(img *volume.Image, dir string, quality int, log logrus.FieldLogger) error {
	viewer, err := visualization.NewViewer(img, 0)
	if err != nil {
		return err
	}
	viewer.Quality = quality
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(dir, axis)
		n, err := viewer.SaveSliceSequence(axis, axisDir)
		if err != nil {
			return err
		}
		log.Infof("Saved %d %s-axis slices to %s", n, axis, axisDir)
	}
	return nil
}
