package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

type ffmpegCommand struct {
	inputPath  string
	outputPath string
	config     TranscoderConfig
}

func newFfmpegCommand(inputPath string, outputPath string, config TranscoderConfig) Command {
	return &ffmpegCommand{inputPath: inputPath, outputPath: outputPath, config: config}
}

func (cmd *ffmpegCommand) Run(ctx context.Context, opts transcoder.Options, onProgress func(*Progress)) error {
	instance := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   cmd.config.FfmpegBinPath,
			FfprobeBinPath:  cmd.config.FfprobeBinPath,
		}).
		Input(cmd.inputPath).
		Output(cmd.outputPath).
		WithContext(&ctx)

	progressChannel, err := instance.Start(opts)
	if err != nil {
		return parseFfmpegError(err)
	}

	for {
		prog, ok := <-progressChannel
		if !ok {
			return ctx.Err()
		}

		onProgress(&Progress{
			FramesProcessed: prog.GetFramesProcessed(),
			CurrentTime:     prog.GetCurrentTime(),
			CurrentBitrate:  prog.GetCurrentBitrate(),
			Progress:        prog.GetProgress(),
			Speed:           prog.GetSpeed(),
		})
	}
}

// probeFile extracts the source duration and resolution using ffprobe.
// Metadata may legitimately be absent for some containers.
func probeFile(path string, config TranscoderConfig) (string, string, error) {
	instance := ffmpeg.
		New(&ffmpeg.Config{
			FfmpegBinPath:  config.FfmpegBinPath,
			FfprobeBinPath: config.FfprobeBinPath,
		}).
		Input(path)

	metadata, err := instance.GetMetadata()
	if err != nil {
		return "", "", fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	duration := metadata.GetFormat().GetDuration()
	resolution := ""
	for _, stream := range metadata.GetStreams() {
		if stream.GetWidth() > 0 && stream.GetHeight() > 0 {
			resolution = fmt.Sprintf("%dx%d", stream.GetWidth(), stream.GetHeight())
			break
		}
	}

	return duration, resolution, nil
}

func parseFfmpegError(err error) error {
	// Try and pick out some relevant information from the HUGE
	// output log from ffmpeg. The error we get contains lots of information
	// about how the binary was compiled... this is useless info, we just
	// want the 'message' JSON that is encoded inside.
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	// ffmpeg error is returned as a JSON encoded string. Unmarshal so we can
	// extract the error string..
	var out map[string]interface{}
	jsonErr := json.Unmarshal([]byte(groups[1]), &out)
	if jsonErr != nil {
		// We failed to extract the info.. just use the entire string as our error
		return errors.New(groups[1])
	}

	ffmpegException, ok := out["error"].(map[string]interface{})
	if !ok {
		return errors.New(groups[1])
	}

	message, ok := ffmpegException["string"].(string)
	if !ok {
		return errors.New(groups[1])
	}

	return errors.New(message)
}
