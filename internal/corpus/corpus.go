// Package corpus holds the immutable detection and annotation tables of an
// evaluation corpus and the loaders that build them from raw files.
package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
)

// BackgroundName is the category appended after the dataset's own classes.
// Unmatched pair endpoints report it as their category.
const BackgroundName = "background"

// Detection is one predicted object.
type Detection struct {
	Category   int           `json:"category"`
	Confidence float64       `json:"confidence"`
	Box        geometry.Box  `json:"box"`
	Mask       *geometry.RLE `json:"mask,omitempty"`
	ImageID    int           `json:"image_id"`
}

// Annotation is one ground-truth object. Area is the annotated pixel area
// carried by the raw record; it is not used for matching.
type Annotation struct {
	Category int           `json:"category"`
	Crowd    bool          `json:"crowd"`
	Box      geometry.Box  `json:"box"`
	Mask     *geometry.RLE `json:"mask,omitempty"`
	Area     float64       `json:"area"`
	ImageID  int           `json:"image_id"`
}

// Span is a half-open index range into a corpus-global table.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Image owns a contiguous run of detections and of annotations.
type Image struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Detections  Span   `json:"detections"`
	Annotations Span   `json:"annotations"`
}

// AspectRatio returns width over height, or 1 when the dimensions are unknown.
func (im Image) AspectRatio() float64 {
	if im.Width <= 0 || im.Height <= 0 {
		return 1
	}
	return float64(im.Width) / float64(im.Height)
}

// Group is one supercategory and the class names under it.
type Group struct {
	Name     string   `json:"name"`
	Children []string `json:"children"`
}

// Catalog maps category indices to names and a two-level hierarchy. The last
// name is always BackgroundName.
type Catalog struct {
	Names     []string `json:"names"`
	Hierarchy []Group  `json:"hierarchy"`
}

// NewCatalog builds a catalog from class names and their supercategories,
// appending the background class.
func NewCatalog(names, supercategories []string) Catalog {
	c := Catalog{Names: make([]string, 0, len(names)+1)}
	groups := make(map[string]int)
	for i, name := range names {
		c.Names = append(c.Names, name)
		super := name
		if i < len(supercategories) && supercategories[i] != "" {
			super = supercategories[i]
		}
		g, ok := groups[super]
		if !ok {
			g = len(c.Hierarchy)
			groups[super] = g
			c.Hierarchy = append(c.Hierarchy, Group{Name: super})
		}
		c.Hierarchy[g].Children = append(c.Hierarchy[g].Children, name)
	}
	c.Names = append(c.Names, BackgroundName)
	c.Hierarchy = append(c.Hierarchy, Group{Name: BackgroundName, Children: []string{BackgroundName}})
	return c
}

// Len counts categories including background.
func (c Catalog) Len() int {
	return len(c.Names)
}

// Background returns the index of the background category.
func (c Catalog) Background() int {
	return len(c.Names) - 1
}

// Index returns the category index of name.
func (c Catalog) Index(name string) (int, bool) {
	for i, n := range c.Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Corpus is the full evaluation corpus. Images appear in ID order and their
// spans tile the detection and annotation tables.
type Corpus struct {
	Dataset      string       `json:"dataset"`
	Segmentation bool         `json:"segmentation"`
	Images       []Image      `json:"images"`
	Detections   []Detection  `json:"detections"`
	Annotations  []Annotation `json:"annotations"`
	Catalog      Catalog      `json:"catalog"`
}

func (c *Corpus) ImageDetections(id int) []Detection {
	s := c.Images[id].Detections
	return c.Detections[s.Start:s.End]
}

func (c *Corpus) ImageAnnotations(id int) []Annotation {
	s := c.Images[id].Annotations
	return c.Annotations[s.Start:s.End]
}

// Fingerprint hashes the matching-relevant content of the corpus. Stage
// entries derived from a corpus are keyed by it so edits to raw files force
// a rebuild.
func (c *Corpus) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	putF := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	putI := func(i int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		h.Write(buf[:])
	}
	putBox := func(b geometry.Box) {
		putF(b.CX)
		putF(b.CY)
		putF(b.W)
		putF(b.H)
	}
	putMask := func(m *geometry.RLE) {
		if m == nil {
			putI(-1)
			return
		}
		putI(m.Height)
		putI(m.Width)
		h.Write([]byte(m.String()))
	}
	h.Write([]byte(c.Dataset))
	for _, im := range c.Images {
		h.Write([]byte(im.Name))
		putI(im.Width)
		putI(im.Height)
		putI(im.Detections.Start)
		putI(im.Detections.End)
		putI(im.Annotations.Start)
		putI(im.Annotations.End)
	}
	for _, d := range c.Detections {
		putI(d.Category)
		putF(d.Confidence)
		putBox(d.Box)
		putMask(d.Mask)
	}
	for _, a := range c.Annotations {
		putI(a.Category)
		if a.Crowd {
			putI(1)
		} else {
			putI(0)
		}
		putBox(a.Box)
		putMask(a.Mask)
	}
	for _, n := range c.Catalog.Names {
		h.Write([]byte(n))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
