// Package astats extracts audio levels from ffmpeg's astats/ametadata log output.
//
// With "-af astats=metadata=1:reset=1,ametadata=print:key=lavfi.astats.Overall.RMS_level"
// ffmpeg prints two kinds of interesting lines per analysis window:
//
//	[Parsed_ametadata_1 @ 0x55d0c8f0a9c0] frame:42   pts:43008   pts_time:0.975238
//	[Parsed_ametadata_1 @ 0x55d0c8f0a9c0] lavfi.astats.Overall.RMS_level=-23.4
//
// Parse turns the first into a KindPTS event and the second into a KindLevel event.
// Every other line yields ErrNoMatch, which callers are expected to ignore.
package astats
