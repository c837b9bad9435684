//go:build linux && cgo

package capture

/*
#cgo pkg-config: x11 xext xfixes
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <X11/extensions/Xfixes.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	Display *display;
	Window root;
	XShmSegmentInfo shminfo;
	XImage *image;
	int width;
	int height;
} ScreenGrabber;

static ScreenGrabber* grabber_init(const char *display_name, int width, int height) {
	ScreenGrabber *g = (ScreenGrabber*)calloc(1, sizeof(ScreenGrabber));
	if (!g) return NULL;

	g->display = XOpenDisplay(display_name);
	if (!g->display) { free(g); return NULL; }

	int screen = DefaultScreen(g->display);
	g->root = RootWindow(g->display, screen);
	g->width = width > 0 ? width : DisplayWidth(g->display, screen);
	g->height = height > 0 ? height : DisplayHeight(g->display, screen);

	g->image = XShmCreateImage(g->display,
		DefaultVisual(g->display, screen),
		DefaultDepth(g->display, screen),
		ZPixmap, NULL, &g->shminfo,
		g->width, g->height);
	if (!g->image) {
		XCloseDisplay(g->display);
		free(g);
		return NULL;
	}

	g->shminfo.shmid = shmget(IPC_PRIVATE,
		g->image->bytes_per_line * g->image->height,
		IPC_CREAT | 0600);
	if (g->shminfo.shmid < 0) {
		XDestroyImage(g->image);
		XCloseDisplay(g->display);
		free(g);
		return NULL;
	}

	g->shminfo.shmaddr = g->image->data = (char*)shmat(g->shminfo.shmid, NULL, 0);
	g->shminfo.readOnly = False;

	if (!XShmAttach(g->display, &g->shminfo)) {
		shmdt(g->shminfo.shmaddr);
		shmctl(g->shminfo.shmid, IPC_RMID, NULL);
		XDestroyImage(g->image);
		XCloseDisplay(g->display);
		free(g);
		return NULL;
	}

	// Mark for removal so the segment is cleaned up when we detach
	shmctl(g->shminfo.shmid, IPC_RMID, NULL);

	return g;
}

static int grabber_grab(ScreenGrabber *g) {
	if (!XShmGetImage(g->display, g->root, g->image, 0, 0, AllPlanes)) {
		return -1;
	}
	return 0;
}

static void grabber_destroy(ScreenGrabber *g) {
	if (!g) return;
	XShmDetach(g->display, &g->shminfo);
	shmdt(g->shminfo.shmaddr);
	XDestroyImage(g->image);
	XCloseDisplay(g->display);
	free(g);
}

typedef struct {
	int x, y;
	int xhot, yhot;
	unsigned int width, height;
	unsigned long serial;
} CursorQuery;

static int cursor_query(Display *display, CursorQuery *out, unsigned char *pixels, int max_bytes) {
	XFixesCursorImage *cursor = XFixesGetCursorImage(display);
	if (!cursor) return -1;

	out->x = cursor->x;
	out->y = cursor->y;
	out->xhot = cursor->xhot;
	out->yhot = cursor->yhot;
	out->width = cursor->width;
	out->height = cursor->height;
	out->serial = cursor->cursor_serial;

	if (pixels) {
		int n = cursor->width * cursor->height;
		if (n * 4 > max_bytes) n = max_bytes / 4;
		// XFixes hands back unsigned long ARGB; repack to BGRA bytes.
		for (int i = 0; i < n; i++) {
			unsigned long p = cursor->pixels[i];
			pixels[i*4 + 0] = (p >> 0) & 0xFF;
			pixels[i*4 + 1] = (p >> 8) & 0xFF;
			pixels[i*4 + 2] = (p >> 16) & 0xFF;
			pixels[i*4 + 3] = (p >> 24) & 0xFF;
		}
	}

	XFree(cursor);
	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/shmcast/shmcast/internal/protocol"
)

// x11FrameSource grabs the root window through MIT-SHM into an XImage and
// copies the BGRA bytes out. The XShm segment is private to the X round
// trip; the capture protocol's shared region is a separate mapping.
type x11FrameSource struct {
	mu      sync.Mutex
	grabber *C.ScreenGrabber
	width   uint32
	height  uint32
	format  protocol.PixelFormat
}

func newX11FrameSource() (FrameSource, error) {
	return &x11FrameSource{}, nil
}

func (s *x11FrameSource) Init(width, height uint32, format protocol.PixelFormat) error {
	if format != protocol.FormatBGRA32 {
		return fmt.Errorf("%w: x11 backend captures bgra32 only, got %s",
			protocol.ErrUnsupportedFormat, format)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grabber != nil {
		C.grabber_destroy(s.grabber)
		s.grabber = nil
	}
	s.width = width
	s.height = height
	s.format = format
	return nil
}

func (s *x11FrameSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grabber != nil {
		return nil
	}
	g := C.grabber_init(nil, C.int(s.width), C.int(s.height))
	if g == nil {
		return fmt.Errorf("%w: cannot open X display for shm capture", ErrBackendUnavailable)
	}
	s.grabber = g
	return nil
}

func (s *x11FrameSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grabber != nil {
		C.grabber_destroy(s.grabber)
		s.grabber = nil
	}
	return nil
}

func (s *x11FrameSource) CaptureFrame(dst []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grabber == nil {
		return 0, ErrBackendUnavailable
	}
	if C.grabber_grab(s.grabber) != 0 {
		return 0, ErrNoFrame
	}

	stride := int(s.grabber.image.bytes_per_line)
	rows := int(s.grabber.image.height)
	rowBytes := int(s.width) * 4
	if rowBytes > stride {
		rowBytes = stride
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(s.grabber.image.data)), stride*rows)

	n := 0
	for y := 0; y < rows && n+rowBytes <= len(dst); y++ {
		copy(dst[n:n+rowBytes], src[y*stride:y*stride+rowBytes])
		n += rowBytes
	}
	return n, nil
}

// x11CursorSource tracks the pointer through XFixes, reporting a new shape
// only when the cursor serial changes.
type x11CursorSource struct {
	mu         sync.Mutex
	display    *C.Display
	lastSerial C.ulong
	pixels     []byte
}

func newX11CursorSource() (CursorSource, error) {
	display := C.XOpenDisplay(nil)
	if display == nil {
		return nil, fmt.Errorf("%w: cannot open X display for cursor tracking", ErrBackendUnavailable)
	}
	return &x11CursorSource{
		display: display,
		pixels:  make([]byte, protocol.MaxCursorData),
	}, nil
}

func (s *x11CursorSource) Position() (int32, int32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q C.CursorQuery
	if C.cursor_query(s.display, &q, nil, 0) != 0 {
		return 0, 0, false, ErrBackendUnavailable
	}
	return int32(q.x), int32(q.y), true, nil
}

func (s *x11CursorSource) Shape() (*protocol.CursorShape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q C.CursorQuery
	if C.cursor_query(s.display, &q, (*C.uchar)(unsafe.Pointer(&s.pixels[0])), C.int(len(s.pixels))) != 0 {
		return nil, ErrBackendUnavailable
	}
	if q.serial == s.lastSerial {
		return nil, nil
	}
	s.lastSerial = q.serial

	size := int(q.width) * int(q.height) * 4
	if size > len(s.pixels) {
		size = len(s.pixels)
	}
	data := make([]byte, size)
	copy(data, s.pixels[:size])

	return &protocol.CursorShape{
		Width:  uint16(q.width),
		Height: uint16(q.height),
		HotX:   int16(q.xhot),
		HotY:   int16(q.yhot),
		Data:   data,
	}, nil
}
