package testutil

import "strconv"

// Log lines as printed by ffmpeg's ametadata=print filter for the RMS level key.
// Level lines follow the frame line of the frame they belong to.
var (
	// FrameLines are two frames with their levels
	FrameLines = []string{
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] frame:0    pts:0       pts_time:0",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=-23.4",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] frame:1    pts:4096    pts_time:0.0928798",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=-20.125",
	}

	// NoiseLines carry no level and must never produce a reading
	NoiseLines = []string{
		"ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers",
		"Input #0, lavfi, from 'anoisesrc=a=0.1:c=white':",
		"  Stream #0:0: Audio: pcm_f64le, 48000 Hz, mono, dbl, 3072 kb/s",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.Peak_level=-5.0",
		"size=N/A time=00:00:01.00 bitrate=N/A speed=1.01x",
	}

	// MalformedLevelLines carry the level key with a value that is not a finite number
	MalformedLevelLines = []string{
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=abc",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=-inf",
		"[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=",
	}
)

// LevelLine returns the log line ffmpeg prints for an RMS level of value
func LevelLine(value string) string {
	return "[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] lavfi.astats.Overall.RMS_level=" + value
}

// FrameLine returns the frame header line for a presentation time
func FrameLine(frame int, ptsTime string) string {
	return "[Parsed_ametadata_1 @ 0x55d0c8a3e2c0] frame:" + strconv.Itoa(frame) + " pts:" + strconv.Itoa(frame*4096) + " pts_time:" + ptsTime
}
