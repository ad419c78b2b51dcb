package pdf

import (
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

const (
	// pageLongEdge 是落盘页图的最长边像素数。
	pageLongEdge = 1600
	// thumbWidth 是编辑器缩略图宽度。
	thumbWidth = 320

	jpegQuality = 85
)

// scaleToLongEdge downscales so the longer edge is at most long pixels.
// Smaller images pass through untouched.
func scaleToLongEdge(src image.Image, long int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= long && h <= long {
		return src
	}

	var tw, th int
	if w >= h {
		tw = long
		th = h * long / w
	} else {
		th = long
		tw = w * long / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

// writePageFiles encodes the page image plus its thumbnail as JPEG under dir
// and returns the two file names.
func writePageFiles(img image.Image, dir, base string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}

	scaled := scaleToLongEdge(img, pageLongEdge)
	fileName := base + ".jpg"
	if err := saveJPEG(scaled, filepath.Join(dir, fileName)); err != nil {
		return "", "", err
	}

	thumb := imaging.Resize(scaled, thumbWidth, 0, imaging.Lanczos)
	thumbName := base + "_thumb.jpg"
	if err := saveJPEG(thumb, filepath.Join(dir, thumbName)); err != nil {
		os.Remove(filepath.Join(dir, fileName))
		return "", "", err
	}

	return fileName, thumbName, nil
}

func saveJPEG(img image.Image, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}
