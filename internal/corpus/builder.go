package corpus

// Builder assembles a corpus image by image in memory, keeping spans
// contiguous.
type Builder struct {
	c *Corpus
}

func NewBuilder(dataset string, catalog Catalog) *Builder {
	return &Builder{c: &Corpus{Dataset: dataset, Catalog: catalog}}
}

// Segmentation marks the corpus as mask based.
func (b *Builder) Segmentation() *Builder {
	b.c.Segmentation = true
	return b
}

// AddImage appends an image and its objects, rewriting their ImageID.
func (b *Builder) AddImage(name string, width, height int, dets []Detection, anns []Annotation) int {
	id := len(b.c.Images)
	im := Image{ID: id, Name: name, Width: width, Height: height}
	im.Detections.Start = len(b.c.Detections)
	for _, d := range dets {
		d.ImageID = id
		b.c.Detections = append(b.c.Detections, d)
	}
	im.Detections.End = len(b.c.Detections)
	im.Annotations.Start = len(b.c.Annotations)
	for _, a := range anns {
		a.ImageID = id
		b.c.Annotations = append(b.c.Annotations, a)
	}
	im.Annotations.End = len(b.c.Annotations)
	b.c.Images = append(b.c.Images, im)
	return id
}

func (b *Builder) Build() *Corpus {
	return b.c
}
