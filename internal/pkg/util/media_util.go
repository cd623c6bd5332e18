package util

import (
	"Chorus/internal/api/config"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/liuzl/gocc"
)

// GetSafeContentType 嗅探真实 MIME 类型，不信任客户端声明。读完把游标拨回起点
func GetSafeContentType(reader io.ReadSeeker) (string, error) {
	buf := make([]byte, 512)
	n, err := reader.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err = reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

// GetDimensions 获取图片宽高
func GetDimensions(ctx context.Context, mediaUrl string) (int, int, error) {
	ffprobePath := config.Cfg.LibPath.FFprobe

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		"-i", mediaUrl,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe 解析失败: %w", err)
	}

	parts := strings.Split(strings.TrimSpace(string(out)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ffprobe 输出异常: %s", string(out))
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// GetDuration 获取音频时长
func GetDuration(ctx context.Context, mediaUrl string) (float64, error) {
	ffprobePath := config.Cfg.LibPath.FFprobe

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", mediaUrl,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe 解析失败: %w", err)
	}

	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

// AudioStreamToText 将音频流转换为文本
func AudioStreamToText(ctx context.Context, mediaUrl string) (string, error) {
	ffmpegPath := config.Cfg.LibPath.FFmpeg
	whisperPath := config.Cfg.LibPath.Whisper
	modelPath := config.Cfg.LibPath.WhisperModel

	// FFmpeg 从 URL 获取音频并输出标准 16kHz WAV 管道流
	ffmpegCmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", mediaUrl,
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", "-f", "wav", "pipe:1")

	// Whisper执行
	whisperCmd := exec.CommandContext(ctx, whisperPath,
		"-m", modelPath,
		"-l", "zh",
		"-f", "-",
		"-nt",
		"--no-prints",
		"--output-file", "--output-*",
	)

	// 建立管道连接
	pr, pw := io.Pipe()
	ffmpegCmd.Stdout = pw
	whisperCmd.Stdin = pr

	var outBuf bytes.Buffer
	whisperCmd.Stdout = &outBuf

	// 启动进程
	if err := ffmpegCmd.Start(); err != nil {
		return "", err
	}
	if err := whisperCmd.Start(); err != nil {
		return "", err
	}

	// 异步监控生产者
	go func() {
		_ = ffmpegCmd.Wait()
		_ = pw.Close()
	}()

	// 等待 Whisper 识别完成
	if err := whisperCmd.Wait(); err != nil {
		return "", err
	}

	// 返回结果，同时尽可能返回简体
	res := strings.TrimSpace(outBuf.String())
	t2s, err := gocc.New("t2s")
	if err != nil {
		return res, nil
	}
	out, err := t2s.Convert(res)
	if err != nil {
		return res, nil
	}
	return out, nil
}
