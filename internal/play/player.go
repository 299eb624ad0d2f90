package play

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// players lists the supported audio players in order of preference
var players = []string{"vlc", "mpv", "ffplay"}

type Player struct {
	directory string
	extension string

	lookPath func(file string) (string, error)
	run      func(cmd *exec.Cmd) error
}

// New returns a player resolving bare recording names against directory.
func New(directory, extension string) *Player {
	return &Player{
		directory: directory,
		extension: strings.TrimPrefix(extension, "."),
		lookPath:  exec.LookPath,
		run:       (*exec.Cmd).Run,
	}
}

// Play plays a recording with the first available player. name is a path
// or a file name inside the recordings directory, with or without extension.
func (p *Player) Play(name string) error {
	audioFile, err := p.Resolve(name)
	if err != nil {
		return err
	}

	fmt.Printf("Playing: %s\n", audioFile)

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := command(player, audioFile)
	if err != nil {
		return err
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := p.run(cmd); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

// Resolve finds the recording file name refers to.
func (p *Player) Resolve(name string) (string, error) {
	candidates := []string{name}
	if !filepath.IsAbs(name) && p.directory != "" {
		candidates = append(candidates, filepath.Join(p.directory, name))
	}
	if filepath.Ext(name) == "" && p.extension != "" {
		for _, c := range candidates {
			candidates = append(candidates, c+"."+p.extension)
		}
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("audio file not found: %s", name)
}

func command(player, audioFile string) (*exec.Cmd, error) {
	switch player {
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", audioFile), nil
	case "mpv":
		return exec.Command("mpv", "--no-video", audioFile), nil
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", audioFile), nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
