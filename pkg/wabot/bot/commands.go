package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/features"
	"github.com/jholhewres/wabot/pkg/wabot/media"
	"github.com/jholhewres/wabot/pkg/wabot/remote"
)

// Help sections.
const (
	sectionDownload = "download"
	sectionBot      = "bot"
)

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything!",
	"Did you hear about the two guys who stole a calendar? They each got six months.",
	"What do you call a fish with no eyes? Fsh!",
	"Why was the math book sad? Because it had too many problems.",
}

// placeholder describes a downloader the bot advertises but cannot serve
// without a third-party API.
type placeholder struct {
	name     string
	aliases  []string
	args     string
	usage    string
	progress string
	reply    string
	failure  string
}

var placeholders = []placeholder{
	{
		name: "facebook", aliases: []string{"fb"}, args: "<url>",
		usage:    "Please provide a Facebook video URL.",
		progress: "Fetching Facebook video...",
		reply:    "Facebook download is not implemented yet. You need to integrate a third-party API for this.",
		failure:  "Failed to download Facebook video. Please ensure the URL is valid.",
	},
	{
		name: "tiktok", aliases: []string{"tiktokdl"}, args: "<url>",
		usage:    "Please provide a TikTok video URL.",
		progress: "Fetching TikTok video...",
		reply:    "TikTok download is not implemented yet. You need to integrate a third-party API for this.",
		failure:  "Failed to download TikTok video. Please ensure the URL is valid.",
	},
	{
		name: "instagram", aliases: []string{"ig"}, args: "<url>",
		usage:    "Please provide an Instagram post URL (Reel, Post, IGTV).",
		progress: "Fetching Instagram media...",
		reply:    "Instagram download is not implemented yet. You need to integrate a third-party API for this.",
		failure:  "Failed to download Instagram media.",
	},
	{
		name: "twitter", args: "<url>",
		usage:    "Please provide a Twitter video URL.",
		progress: "Fetching Twitter video...",
		reply:    "Twitter download is not implemented yet. You need to integrate a third-party API for this.",
		failure:  "Failed to download Twitter video.",
	},
	{
		name: "spotifydl", args: "<url>",
		usage:    "Please provide a Spotify song/playlist URL.",
		progress: "Attempting to download from Spotify...",
		reply:    "Spotify download is complex and requires specific APIs/services which are not directly supported here. You might need to use a dedicated Spotify downloader service via its API.",
		failure:  "Failed to download from Spotify.",
	},
	{
		name: "spotifysearch", args: "<query>",
		usage:    "Please provide a Spotify search query.",
		progress: "Searching Spotify...",
		reply:    "Spotify search requires Spotify API integration with proper authentication.",
		failure:  "Failed to search Spotify.",
	},
	{
		name: "pinterestdl", args: "<url>",
		usage:    "Please provide a Pinterest URL.",
		progress: "Downloading from Pinterest...",
		reply:    "Pinterest download is not implemented yet. You need to integrate a third-party API for this.",
		failure:  "Failed to download from Pinterest.",
	},
	{
		name: "ringtone", args: "<query>",
		usage:    "Please provide a ringtone search query.",
		progress: "Searching for ringtones...",
		reply:    "Ringtone download is not implemented. You need to integrate a third-party API or service.",
		failure:  "Failed to search for ringtones.",
	},
	{
		name: "apk", args: "<query>",
		usage:    "Please provide an APK search query.",
		progress: "Searching for APK...",
		reply:    "APK download is not directly implemented due to complexity and potential risks. You might need to integrate a third-party APK download API.",
		failure:  "Failed to search for APK.",
	},
}

// registerCommands fills the registry with the built-in command table.
func (b *Bot) registerCommands() error {
	p := b.cfg.Prefix

	specs := []*CommandSpec{
		{
			Name: "help", Section: sectionBot, Summary: "This menu",
			Handler: b.cmdHelp,
		},
	}

	for _, ph := range placeholders {
		specs = append(specs, b.placeholderSpec(ph))
	}

	specs = append(specs,
		&CommandSpec{
			Name: "mp3", Aliases: []string{"play"},
			Section: sectionDownload, Args: "<url|query>", Summary: "YouTube audio, also " + p + "play",
			Ready:     b.requireVideos,
			NeedsText: true,
			Usage:     fmt.Sprintf("Please provide a YouTube video URL or search query for `%[1]splay`, `%[1]smp3`, `%[1]smp4`.", p),
			FailureReply: "Failed to download YouTube audio. Please ensure the URL is valid or try searching first.",
			Handler:      b.cmdAudio,
		},
		&CommandSpec{
			Name: "mp4", Aliases: []string{"video", "youtube"},
			Section: sectionDownload, Args: "<url|query>", Summary: "YouTube video, also " + p + "video, " + p + "youtube",
			Ready:     b.requireVideos,
			NeedsText: true,
			Usage:     fmt.Sprintf("Please provide a YouTube video URL or search query for `%[1]splay`, `%[1]smp3`, `%[1]smp4`.", p),
			FailureReply: "Failed to download YouTube video. Please ensure the URL is valid.",
			Handler:      b.cmdVideo,
		},
		&CommandSpec{
			Name: "yts", Section: sectionDownload, Args: "<query>", Summary: "YouTube search",
			Ready:        b.requireSearch,
			NeedsText:    true,
			Usage:        fmt.Sprintf("Please provide a search query. Example: `%syts latest songs`", p),
			FailureReply: "Failed to perform YouTube search.",
			Handler:      b.cmdYouTubeSearch,
		},
		&CommandSpec{
			Name: "img", Section: sectionDownload, Args: "<query>", Summary: "Image search",
			Ready:        b.requireImages,
			NeedsText:    true,
			Usage:        "Please provide an image search query.",
			FailureReply: "Failed to search for images. Check your API key or try another query.",
			Handler:      b.cmdImage,
		},
		&CommandSpec{
			Name: "ssweb", Section: sectionDownload, Args: "<url>", Summary: "Website screenshot",
			Ready:        b.requireScreenshots,
			NeedsText:    true,
			ValidText:    func(text string) bool { return strings.HasPrefix(text, "http") },
			Usage:        fmt.Sprintf("Please provide a valid URL (e.g., `%sssweb https://google.com`)", p),
			FailureReply: "Failed to take screenshot. Make sure the URL is accessible.",
			Handler:      b.cmdScreenshot,
		},
		&CommandSpec{
			Name: "dog", Section: sectionDownload, Summary: "Random dog image",
			Ready:        b.requireDogs,
			FailureReply: "Failed to fetch a dog image.",
			Handler:      b.cmdDog,
		},
		&CommandSpec{
			Name: "status", Section: sectionBot,
			Handler: b.cmdStatus,
		},
		&CommandSpec{
			Name: "joke", Section: sectionBot,
			Handler: func(ctx context.Context, inv *Invocation) error {
				return inv.Reply(ctx, b.pick(jokes))
			},
		},
		&CommandSpec{
			Name: "sticker", Section: sectionBot, Summary: "Reply to an image",
			Handler: b.cmdSticker,
		},
		&CommandSpec{
			Name: "ping", Section: sectionBot,
			Handler: func(ctx context.Context, inv *Invocation) error {
				return inv.Reply(ctx, "pong")
			},
		},
		&CommandSpec{
			Name: "everyone", Section: sectionBot, Summary: "Group Admin Only",
			Auth:         AuthGroupAdmin,
			FailureReply: "Failed to mention group members.",
			Handler:      b.cmdEveryone,
		},
		&CommandSpec{
			Name: "sendtoall", Section: sectionBot, Args: "<message>", Summary: "Admin Only",
			Auth:         AuthAdmin,
			NeedsText:    true,
			Usage:        fmt.Sprintf("Please provide a message to send to all contacts. Example: `%ssendtoall Hello everyone!`", p),
			FailureReply: "Failed to send message to all contacts.",
			Handler:      b.cmdSendToAll,
		},
		&CommandSpec{
			Name: "features", Section: sectionBot, Summary: "Toggle bot features - Admin Only",
			Auth:    AuthAdmin,
			Handler: b.cmdFeatures,
		},
		&CommandSpec{
			Name: "gpt", Aliases: []string{"ai"},
			Section: sectionBot, Args: "<query>", Summary: "ChatGPT - requires API key setup",
			Feature:      features.ChatGPT,
			Ready:        b.requireChat,
			NeedsText:    true,
			Usage:        fmt.Sprintf("Please provide a query for ChatGPT. Example: `%sgpt What is AI?`", p),
			FailureReply: "Sorry, I could not get a response from ChatGPT. There might be an issue with the API.",
			Handler:      b.cmdChat,
		},
		&CommandSpec{
			Name: "viewonce", Section: sectionBot, Summary: "Reply to a view once message",
			FailureReply: "Failed to download view once media.",
			Handler:      b.cmdViewOnce,
		},
	)

	for _, s := range specs {
		if err := b.registry.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) placeholderSpec(ph placeholder) *CommandSpec {
	return &CommandSpec{
		Name:         ph.name,
		Aliases:      ph.aliases,
		Section:      sectionDownload,
		Args:         ph.args,
		NeedsText:    true,
		Usage:        ph.usage,
		FailureReply: ph.failure,
		Handler: func(ctx context.Context, inv *Invocation) error {
			b.progress(ctx, inv, ph.progress)
			return inv.Reply(ctx, ph.reply)
		},
	}
}

// progress sends an interim message. Failures are only logged.
func (b *Bot) progress(ctx context.Context, inv *Invocation, text string) {
	if err := inv.Reply(ctx, text); err != nil {
		b.logger.Warn("bot: failed to send progress message", "command", inv.Spec.Name, "error", err)
	}
}

// ---------- Readiness ----------

func (b *Bot) requireVideos() error {
	if b.services.Videos == nil {
		return Userf("YouTube downloads are not configured.")
	}
	return nil
}

func (b *Bot) requireSearch() error {
	if b.services.Search == nil {
		return Userf("Web search is not configured.")
	}
	return nil
}

func (b *Bot) requireImages() error {
	if b.services.Images == nil || !b.services.Images.Configured() {
		return Userf("Image search API key not configured. Get one from Pexels.com/api")
	}
	return nil
}

func (b *Bot) requireScreenshots() error {
	if b.services.Screenshots == nil {
		return Userf("Screenshots are not configured.")
	}
	return nil
}

func (b *Bot) requireDogs() error {
	if b.services.Dogs == nil {
		return Userf("Dog images are not configured.")
	}
	return nil
}

func (b *Bot) requireChat() error {
	if b.services.Chat == nil || !b.services.Chat.Configured() {
		return Userf("ChatGPT feature is enabled but API key is not configured. Please set your OPENAI_API_KEY.")
	}
	return nil
}

// ---------- Bot commands ----------

func (b *Bot) cmdHelp(ctx context.Context, inv *Invocation) error {
	return inv.Reply(ctx, b.helpText())
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	writeSection := func(title, section string) {
		sb.WriteString(title)
		for _, spec := range b.registry.Commands() {
			if spec.Section != section {
				continue
			}
			sb.WriteString(" • `")
			sb.WriteString(b.cfg.Prefix + spec.Name)
			if spec.Args != "" {
				sb.WriteString(" " + spec.Args)
			}
			sb.WriteString("`")
			if spec.Summary != "" {
				sb.WriteString(" (" + spec.Summary + ")")
			}
			sb.WriteString("\n")
		}
	}
	writeSection("🌟 *Download Menu:*\n", sectionDownload)
	writeSection("\n🔥 *Bot Features:*\n", sectionBot)
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) cmdStatus(ctx context.Context, inv *Invocation) error {
	return inv.Reply(ctx, fmt.Sprintf("🤖 Bot is running perfectly! 👍\n⏱️ Uptime: %s", b.uptime()))
}

func (b *Bot) cmdSticker(ctx context.Context, inv *Invocation) error {
	msg := inv.Msg
	info, err := media.SelectStickerSource(msg)
	if err != nil {
		return &UserError{
			Message: "Please reply to an image or send an image with the command to convert it to a sticker.",
			Err:     err,
		}
	}

	failure := "Failed to convert to sticker. Please send a valid image."
	if msg.Quoted != nil && msg.Quoted.Media == info {
		failure = "Failed to convert to sticker. Please reply to a valid image."
	}

	src, err := b.stager.FromMessage(ctx, b.msgr, info, media.CategoryImage)
	if err != nil {
		return &UserError{Message: failure, Err: err}
	}

	err = media.WithArtifact(src, func(src *media.Artifact) error {
		data, err := src.ReadAll()
		if err != nil {
			return err
		}
		webp, err := media.ConvertToSticker(data)
		if err != nil {
			return err
		}
		sticker, err := b.stager.StageBytes(webp, "image/webp", media.CategorySticker)
		if err != nil {
			return err
		}
		return media.WithArtifact(sticker, func(sticker *media.Artifact) error {
			return media.Publish(ctx, b.msgr, msg.ChatID, sticker, media.PublishOptions{})
		})
	})
	if err != nil {
		return &UserError{Message: failure, Err: err}
	}
	return inv.Reply(ctx, "Image converted to sticker! ✨")
}

func (b *Bot) cmdEveryone(ctx context.Context, inv *Invocation) error {
	members, err := b.msgr.GroupParticipants(ctx, inv.Msg.ChatID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("👥 *Attention everyone!*\n")
	for _, m := range members {
		user, _, _ := strings.Cut(m, "@")
		sb.WriteString("@" + user + " ")
	}

	return b.msgr.Send(ctx, inv.Msg.ChatID, &channels.OutgoingMessage{
		Content:  strings.TrimSpace(sb.String()),
		Mentions: members,
	})
}

func (b *Bot) cmdSendToAll(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Sending message to all contacts, please wait...")

	res, err := b.throttler.BroadcastAll(ctx, inv.Text())
	if err != nil {
		return err
	}
	b.logger.Info("bot: broadcast finished",
		"attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	return inv.Reply(ctx, fmt.Sprintf("Message sent to %d contacts successfully!", res.Sent))
}

func (b *Bot) cmdFeatures(ctx context.Context, inv *Invocation) error {
	args := inv.Args()
	switch len(args) {
	case 0:
		return inv.Reply(ctx, b.featureStatus())
	case 2:
		state, ok := parseOnOff(args[1])
		name, known := b.flags.Resolve(args[0])
		if !ok || !known {
			break
		}
		if err := b.flags.Set(name, state); err != nil {
			return err
		}
		b.logger.Info("bot: feature toggled", "feature", name, "enabled", state, "by", inv.Msg.From)
		return inv.Reply(ctx, fmt.Sprintf("Feature %s turned %s.", name, onOff(state)))
	}
	return Userf("Invalid usage. Use `%[1]sfeatures` to see status, or `%[1]sfeatures <feature_name> <on/off>` to toggle.", b.cfg.Prefix)
}

func (b *Bot) featureStatus() string {
	var sb strings.Builder
	sb.WriteString("✨ *Bot Features Status:*\n\n")
	for _, f := range b.flags.List() {
		state := "🔴 Off"
		if f.Enabled {
			state = "🟢 On"
		}
		fmt.Fprintf(&sb, " • *%s:* %s\n", f.Name, state)
	}
	fmt.Fprintf(&sb, "\n_Use `%sfeatures <feature_name> <on/off>` to toggle._\n", b.cfg.Prefix)
	fmt.Fprintf(&sb, "Example: `%sfeatures autoReply off`", b.cfg.Prefix)
	return sb.String()
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (b *Bot) cmdChat(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Thinking...")
	answer, err := b.services.Chat.Complete(ctx, inv.Text())
	if err != nil {
		return err
	}
	return inv.Reply(ctx, "ChatGPT: "+answer)
}

func (b *Bot) cmdViewOnce(ctx context.Context, inv *Invocation) error {
	info, err := media.SelectViewOnceSource(inv.Msg)
	if err != nil {
		return &UserError{Message: `Please reply to a "view once" message to download its media.`, Err: err}
	}

	art, err := b.stager.FromMessage(ctx, b.msgr, info, media.CategoryFor(info.Type))
	if err != nil {
		return err
	}
	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{
			Caption: "Here's the view once media!",
		})
	})
}

// ---------- Download commands ----------

func (b *Bot) cmdAudio(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Downloading audio from YouTube...")

	art, err := b.stager.Extract(ctx, b.services.Videos, inv.Text(), media.KindAudio)
	if errors.Is(err, media.ErrNoSuitableFormat) {
		return &UserError{Message: "Could not find suitable audio format.", Err: err}
	}
	if err != nil {
		return err
	}

	// Sent as a document so the client does not re-encode it.
	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{AsDocument: true})
	})
}

func (b *Bot) cmdVideo(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Downloading video from YouTube...")

	art, err := b.stager.Extract(ctx, b.services.Videos, inv.Text(), media.KindVideo)
	if errors.Is(err, media.ErrNoSuitableFormat) {
		return &UserError{Message: "Could not find suitable video format.", Err: err}
	}
	if err != nil {
		return err
	}

	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{Caption: art.Title})
	})
}

func (b *Bot) cmdYouTubeSearch(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Searching YouTube...")

	results, err := b.services.Search.Search(ctx, inv.Text()+" youtube", 10)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("🔍 *YouTube Results:*\n\n")
	n := 0
	for _, r := range results {
		if !remote.IsYouTubeURL(r.URL) {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. *%s*\n🔗 %s\n\n", n, r.Title, r.URL)
		if n == 5 {
			break
		}
	}
	if n == 0 {
		return Userf("No YouTube videos found for your query.")
	}
	return inv.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdImage(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Searching for images...")

	photos, err := b.services.Images.SearchImages(ctx, inv.Text(), 1)
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		return Userf("No images found for your query.")
	}

	art, err := b.stager.FetchURL(ctx, photos[0].URL, media.CategoryImage)
	if err != nil {
		return err
	}
	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{
			Caption: fmt.Sprintf("Here's an image for %q", inv.Text()),
		})
	})
}

func (b *Bot) cmdScreenshot(ctx context.Context, inv *Invocation) error {
	target := inv.Text()
	b.progress(ctx, inv, "Taking screenshot...")

	shot, err := b.services.Screenshots.Capture(ctx, target)
	if err != nil {
		return err
	}

	var art *media.Artifact
	if len(shot.Data) > 0 {
		art, err = b.stager.StageBytes(shot.Data, shot.MimeType, media.CategoryImage)
	} else {
		art, err = b.stager.FetchURL(ctx, shot.URL, media.CategoryImage)
	}
	if err != nil {
		return err
	}
	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{
			Caption: "Screenshot of " + target,
		})
	})
}

func (b *Bot) cmdDog(ctx context.Context, inv *Invocation) error {
	b.progress(ctx, inv, "Fetching a random dog image...")

	imageURL, err := b.services.Dogs.RandomImage(ctx)
	if err != nil {
		return err
	}
	art, err := b.stager.FetchURL(ctx, imageURL, media.CategoryImage)
	if err != nil {
		return err
	}
	return media.WithArtifact(art, func(art *media.Artifact) error {
		return media.Publish(ctx, b.msgr, inv.Msg.ChatID, art, media.PublishOptions{})
	})
}
