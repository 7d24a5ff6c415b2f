package corpus

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
)

// Record field counts per corpus mode.
const (
	boxLabelFields    = 7 // category cx cy w h crowd area
	boxPredictFields  = 6 // category confidence cx cy w h
	maskLabelFields   = 5 // category crowd height width rle
	maskPredictFields = 5 // category confidence height width rle
)

// Loader produces a corpus from some raw source.
type Loader interface {
	Load(ctx context.Context) (*Corpus, error)
}

// Fingerprinter is implemented by loaders that can tell whether their raw
// input changed without parsing it.
type Fingerprinter interface {
	SourceFingerprint(ctx context.Context) (string, error)
}

// DirLoader reads the on-disk layout
//
//	root/images/<name>.<ext>
//	root/labels/<name>.txt
//	root/predicts/<name>.txt
//	root/meta.json
//
// An image without a label or predict file owns no rows of that kind.
type DirLoader struct {
	Root         string
	Dataset      string
	Segmentation bool
	Dimensions   DimensionSource
}

func NewDirLoader(root, dataset string, segmentation bool) *DirLoader {
	return &DirLoader{
		Root:         root,
		Dataset:      dataset,
		Segmentation: segmentation,
		Dimensions:   ImageDir{Dir: filepath.Join(root, "images")},
	}
}

type metaFile struct {
	Categories []struct {
		ID            int    `json:"id"`
		Name          string `json:"name"`
		Supercategory string `json:"supercategory"`
	} `json:"categories"`
}

// LoadCatalog parses meta.json.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading meta file %s: %w", path, err)
	}
	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return Catalog{}, fmt.Errorf("parsing meta file %s: %w", path, err)
	}
	names := make([]string, len(meta.Categories))
	supers := make([]string, len(meta.Categories))
	for i, c := range meta.Categories {
		names[i] = c.Name
		supers[i] = c.Supercategory
	}
	return NewCatalog(names, supers), nil
}

func (l *DirLoader) Load(ctx context.Context) (*Corpus, error) {
	catalog, err := LoadCatalog(filepath.Join(l.Root, "meta.json"))
	if err != nil {
		return nil, err
	}
	names, err := listImages(filepath.Join(l.Root, "images"))
	if err != nil {
		return nil, err
	}

	c := &Corpus{
		Dataset:      l.Dataset,
		Segmentation: l.Segmentation,
		Images:       make([]Image, 0, len(names)),
		Catalog:      catalog,
	}
	for id, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, h, err := l.Dimensions.Dimensions(name)
		if err != nil {
			return nil, err
		}
		im := Image{ID: id, Name: name, Width: w, Height: h}
		stem := imageStem(name)

		im.Annotations.Start = len(c.Annotations)
		anns, err := l.readLabels(filepath.Join(l.Root, "labels", stem+".txt"), id, catalog.Len())
		if err != nil {
			return nil, err
		}
		c.Annotations = append(c.Annotations, anns...)
		im.Annotations.End = len(c.Annotations)

		im.Detections.Start = len(c.Detections)
		dets, err := l.readPredicts(filepath.Join(l.Root, "predicts", stem+".txt"), id, catalog.Len())
		if err != nil {
			return nil, err
		}
		c.Detections = append(c.Detections, dets...)
		im.Detections.End = len(c.Detections)

		c.Images = append(c.Images, im)
	}
	logger.WithComponent("corpus-loader").Info("corpus loaded",
		"dataset", l.Dataset,
		"images", len(c.Images),
		"detections", len(c.Detections),
		"annotations", len(c.Annotations),
		"categories", catalog.Len(),
	)
	return c, nil
}

// SourceFingerprint hashes the path, size and modification time of every
// file the loader reads. Missing label or predict directories hash as empty.
func (l *DirLoader) SourceFingerprint(ctx context.Context) (string, error) {
	h := sha256.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	add := func(path string, info fs.FileInfo) {
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			rel = path
		}
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte{0})
		put(info.Size())
		put(info.ModTime().UnixNano())
	}

	meta := filepath.Join(l.Root, "meta.json")
	info, err := os.Stat(meta)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", meta, err)
	}
	add(meta, info)
	for _, sub := range []string{"images", "labels", "predicts"} {
		dir := filepath.Join(l.Root, sub)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			add(path, info)
			return nil
		})
		if err != nil && !(sub != "images" && errors.Is(err, fs.ErrNotExist)) {
			return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing images in %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func imageStem(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// readRows returns the whitespace-separated fields of every non-blank line.
// A missing file yields no rows.
func readRows(path string, want int) ([][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var rows [][]string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != want {
			return nil, &apperrors.RecordError{
				File:   path,
				Line:   line,
				Reason: fmt.Sprintf("want %d fields, got %d", want, len(fields)),
			}
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

type rowParser struct {
	path string
	row  int
	err  error
}

func (p *rowParser) float(s string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = &apperrors.RecordError{File: p.path, Line: p.row, Reason: fmt.Sprintf("parsing %q: %v", s, err)}
	}
	return v
}

func (p *rowParser) category(s string, n int) int {
	v := int(p.float(s))
	if p.err == nil && (v < 0 || v >= n) {
		p.err = &apperrors.RecordError{File: p.path, Line: p.row, Reason: fmt.Sprintf("category %d outside [0, %d)", v, n)}
	}
	return v
}

func (p *rowParser) mask(hs, ws, counts string) *geometry.RLE {
	h, w := int(p.float(hs)), int(p.float(ws))
	if p.err != nil {
		return nil
	}
	r, err := geometry.DecodeRLEString(h, w, counts)
	if err != nil {
		p.err = &apperrors.RecordError{File: p.path, Line: p.row, Reason: err.Error()}
		return nil
	}
	return &r
}

func (l *DirLoader) readLabels(path string, imageID, categories int) ([]Annotation, error) {
	want := boxLabelFields
	if l.Segmentation {
		want = maskLabelFields
	}
	rows, err := readRows(path, want)
	if err != nil {
		return nil, err
	}
	// Background is never a ground-truth class.
	categories--
	out := make([]Annotation, 0, len(rows))
	for i, f := range rows {
		p := &rowParser{path: path, row: i + 1}
		a := Annotation{ImageID: imageID, Category: p.category(f[0], categories)}
		if l.Segmentation {
			a.Crowd = p.float(f[1]) != 0
			a.Mask = p.mask(f[2], f[3], f[4])
			if a.Mask != nil {
				a.Box = a.Mask.NormalizedBox()
				a.Area = a.Mask.Area()
			}
		} else {
			a.Box = geometry.Box{CX: p.float(f[1]), CY: p.float(f[2]), W: p.float(f[3]), H: p.float(f[4])}
			a.Crowd = p.float(f[5]) != 0
			a.Area = p.float(f[6])
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, a)
	}
	return out, nil
}

func (l *DirLoader) readPredicts(path string, imageID, categories int) ([]Detection, error) {
	want := boxPredictFields
	if l.Segmentation {
		want = maskPredictFields
	}
	rows, err := readRows(path, want)
	if err != nil {
		return nil, err
	}
	categories--
	out := make([]Detection, 0, len(rows))
	for i, f := range rows {
		p := &rowParser{path: path, row: i + 1}
		d := Detection{ImageID: imageID, Category: p.category(f[0], categories), Confidence: p.float(f[1])}
		if l.Segmentation {
			d.Mask = p.mask(f[2], f[3], f[4])
			if d.Mask != nil {
				d.Box = d.Mask.NormalizedBox()
			}
		} else {
			d.Box = geometry.Box{CX: p.float(f[2]), CY: p.float(f[3]), W: p.float(f[4]), H: p.float(f[5])}
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, d)
	}
	return out, nil
}
