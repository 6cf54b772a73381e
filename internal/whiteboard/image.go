package whiteboard

import "errors"

// MinImageSize is the smallest width or height a resize may produce.
const MinImageSize = 20

var (
	ErrImageExists   = errors.New("image already exists")
	ErrTooManyImages = errors.New("image limit reached")
	ErrUnknownImage  = errors.New("unknown image")
	ErrImageLocked   = errors.New("image is locked")
	ErrNotLocked     = errors.New("image is not locked")
	ErrNotLockHolder = errors.New("image is locked by another participant")
	ErrInvalidImage  = errors.New("invalid image")
)

type Image struct {
	ID          string  `json:"imageId"`
	Src         string  `json:"src"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
	IsLocked    bool    `json:"isLocked"`
	LockedBy    string  `json:"lockedBy,omitempty"`
	UploadedBy  string  `json:"uploadedBy,omitempty"`
}

// AddImage places a new image. The aspect ratio is fixed at upload.
func (b *Board) AddImage(img Image) (Image, error) {
	if img.ID == "" || img.Src == "" || img.Width <= 0 || img.Height <= 0 {
		return Image{}, ErrInvalidImage
	}
	if _, ok := b.images[img.ID]; ok {
		return Image{}, ErrImageExists
	}
	if b.maxImages > 0 && len(b.images) >= b.maxImages {
		return Image{}, ErrTooManyImages
	}
	img.AspectRatio = img.Width / img.Height
	img.IsLocked = false
	img.LockedBy = ""
	b.images[img.ID] = &img
	b.order = append(b.order, img.ID)
	return img, nil
}

// editable reports whether by may transform the image right now.
func (b *Board) editable(id, by string) (*Image, error) {
	img, ok := b.images[id]
	if !ok {
		return nil, ErrUnknownImage
	}
	if img.IsLocked && img.LockedBy != by {
		return nil, ErrNotLockHolder
	}
	return img, nil
}

func (b *Board) MoveImage(id, by string, x, y float64) (Image, error) {
	img, err := b.editable(id, by)
	if err != nil {
		return Image{}, err
	}
	img.X, img.Y = x, y
	return *img, nil
}

// ResizeImage sets the image size, clamped to MinImageSize. With keepAspect
// the height follows the width.
func (b *Board) ResizeImage(id, by string, width, height float64, keepAspect bool) (Image, error) {
	img, err := b.editable(id, by)
	if err != nil {
		return Image{}, err
	}
	w, h := Fit(width, height, img.AspectRatio, keepAspect)
	img.Width, img.Height = w, h
	return *img, nil
}

// Fit applies the resize rules to a requested size.
func Fit(width, height, aspect float64, keepAspect bool) (float64, float64) {
	if width < MinImageSize {
		width = MinImageSize
	}
	if keepAspect && aspect > 0 {
		height = width / aspect
		if height < MinImageSize {
			height = MinImageSize
			width = height * aspect
		}
		return width, height
	}
	if height < MinImageSize {
		height = MinImageSize
	}
	return width, height
}

// LockImage grants by exclusive edit rights. It fails if anyone, by
// included, already holds the lock.
func (b *Board) LockImage(id, by string) (Image, error) {
	img, ok := b.images[id]
	if !ok {
		return Image{}, ErrUnknownImage
	}
	if img.IsLocked {
		return Image{}, ErrImageLocked
	}
	img.IsLocked = true
	img.LockedBy = by
	return *img, nil
}

func (b *Board) UnlockImage(id, by string) (Image, error) {
	img, ok := b.images[id]
	if !ok {
		return Image{}, ErrUnknownImage
	}
	if !img.IsLocked {
		return Image{}, ErrNotLocked
	}
	if img.LockedBy != by {
		return Image{}, ErrNotLockHolder
	}
	img.IsLocked = false
	img.LockedBy = ""
	return *img, nil
}

// ReleaseLocks unlocks every image held by by, in upload order.
func (b *Board) ReleaseLocks(by string) []Image {
	var out []Image
	for _, id := range b.order {
		img := b.images[id]
		if img.IsLocked && img.LockedBy == by {
			img.IsLocked = false
			img.LockedBy = ""
			out = append(out, *img)
		}
	}
	return out
}

func (b *Board) Image(id string) (Image, bool) {
	img, ok := b.images[id]
	if !ok {
		return Image{}, false
	}
	return *img, true
}

// Images returns every image in upload order.
func (b *Board) Images() []Image {
	out := make([]Image, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.images[id])
	}
	return out
}

// ReplaceImages loads a snapshot received from the room, e.g. on join.
func (b *Board) ReplaceImages(imgs []Image) {
	b.images = make(map[string]*Image, len(imgs))
	b.order = b.order[:0]
	for i := range imgs {
		img := imgs[i]
		if _, dup := b.images[img.ID]; dup {
			continue
		}
		b.images[img.ID] = &img
		b.order = append(b.order, img.ID)
	}
}

// PutImage overwrites or inserts an image as reported by the room.
func (b *Board) PutImage(img Image) {
	if _, ok := b.images[img.ID]; !ok {
		b.order = append(b.order, img.ID)
	}
	b.images[img.ID] = &img
}
