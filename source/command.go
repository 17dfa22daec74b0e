package source

import "github.com/ldotlopez/vol2mqtt/config"

// MetadataKey is the astats metadata entry that ffmpeg prints for every analysed frame
const MetadataKey = "lavfi.astats.Overall.RMS_level"

var (
	filterArgs = []string{
		"-vn",
		"-af", "astats=metadata=1:reset=1,ametadata=print:key=" + MetadataKey,
	}
	outputArgs = []string{"-f", "null", "-"}
)

// BuildCommand returns the full ffmpeg argv for cfg:
//
//	<binary> <global args> <input> -vn -af astats=...,ametadata=print:key=... -f null -
//
// A single input element is a URL or path and gets a "-i" prefix. Longer inputs are raw
// ffmpeg input arguments and are passed verbatim.
func BuildCommand(cfg config.SourceConfig) []string {
	argv := make([]string, 0, 1+len(cfg.GlobalArgs)+len(cfg.Input)+1+len(filterArgs)+len(outputArgs))
	argv = append(argv, cfg.Binary)
	argv = append(argv, cfg.GlobalArgs...)

	if len(cfg.Input) == 1 {
		argv = append(argv, "-i")
	}
	argv = append(argv, cfg.Input...)

	argv = append(argv, filterArgs...)
	argv = append(argv, outputArgs...)
	return argv
}
