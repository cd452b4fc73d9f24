package export

import (
	"fmt"
	"math"
	"strings"
)

const maxReelLen = 8

// GenerateEDL renders events as a CMX3600 list. Record time starts at zero
// and advances by each event's length, so the list plays the track back to
// back in the order given.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame(frameRate) {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	record := 0
	for i, ev := range events {
		in := toFrames(ev.In, fps)
		out := toFrames(ev.Out, fps)
		length := out - in

		channel := "V"
		if ev.Audio {
			channel = "AA/V"
		}
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, reelName(ev.Reel), channel,
			timecode(in, fps), timecode(out, fps),
			timecode(record, fps), timecode(record+length, fps))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", ev.ClipName)
		fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", ev.MediaPath)

		record += length
	}
	return b.String()
}

func isDropFrame(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}

// reelName fits a clip id into the reel column: letters and digits only,
// upper case, at most eight of them.
func reelName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if b.Len() == maxReelLen {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "AX"
	}
	return b.String()
}

func toFrames(seconds float64, fps int) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(fps)))
}

func timecode(frames, fps int) string {
	ff := frames % fps
	total := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", total/3600, total/60%60, total%60, ff)
}
