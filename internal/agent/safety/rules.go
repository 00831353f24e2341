package safety

import "strings"

type argvRule struct {
	name   string
	reason string
	match  func(name string, args []string) bool
}

func named(names ...string) func(string, []string) bool {
	return func(name string, _ []string) bool {
		for _, n := range names {
			if name == n {
				return true
			}
		}
		return false
	}
}

func hasArg(args []string, want ...string) bool {
	for _, a := range args {
		for _, w := range want {
			if a == w {
				return true
			}
		}
	}
	return false
}

func hasArgPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// subcommand returns the first argument that is not a flag.
func subcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

func nonFlags(args []string) []string {
	var out []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			out = append(out, a)
		}
	}
	return out
}

var emptySources = map[string]bool{
	"/dev/null":    true,
	"/dev/zero":    true,
	"/dev/random":  true,
	"/dev/urandom": true,
}

var argvRules = []argvRule{
	{
		name:   "file-deletion",
		reason: "deletes files",
		match:  named("rm", "rmdir", "unlink", "shred", "srm"),
	},
	{
		name:   "find-delete",
		reason: "find with -delete",
		match: func(name string, args []string) bool {
			return name == "find" && hasArg(args, "-delete")
		},
	},
	{
		name:   "rsync-delete",
		reason: "rsync removes files missing from the source",
		match: func(name string, args []string) bool {
			return name == "rsync" && (hasArgPrefix(args, "--delete") || hasArg(args, "--remove-source-files"))
		},
	},
	{
		name:   "empty-overwrite",
		reason: "overwrites files from an empty or zero source",
		match: func(name string, args []string) bool {
			switch name {
			case "cp", "mv", "install":
				operands := nonFlags(args)
				for _, src := range operands[:max(len(operands)-1, 0)] {
					if emptySources[src] {
						return true
					}
				}
			case "dd":
				for _, a := range args {
					if src, ok := strings.CutPrefix(a, "if="); ok && emptySources[src] {
						return true
					}
				}
			}
			return false
		},
	},
	{
		name:   "crontab-remove",
		reason: "removes the crontab",
		match: func(name string, args []string) bool {
			if name != "crontab" {
				return false
			}
			for _, a := range args {
				if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "r") {
					return true
				}
			}
			return false
		},
	},
	{
		name:   "git-destructive",
		reason: "discards git history or working tree",
		match: func(name string, args []string) bool {
			if name != "git" {
				return false
			}
			switch subcommand(args) {
			case "rm", "clean":
				return true
			case "reset":
				return hasArg(args, "--hard")
			case "push":
				return hasArg(args, "--force", "-f", "--force-with-lease")
			}
			return false
		},
	},
	{
		name:   "kubernetes-delete",
		reason: "deletes or evicts Kubernetes resources",
		match: func(name string, args []string) bool {
			if name != "kubectl" && name != "oc" {
				return false
			}
			return hasArg(args, "delete", "drain", "evict")
		},
	},
	{
		name:   "helm-uninstall",
		reason: "removes a Helm release",
		match: func(name string, args []string) bool {
			return name == "helm" && hasArg(args, "uninstall", "delete", "del", "un")
		},
	},
	{
		name:   "container-removal",
		reason: "removes containers, images or volumes",
		match: func(name string, args []string) bool {
			if name != "docker" && name != "podman" && name != "nerdctl" && name != "crictl" {
				return false
			}
			return hasArg(args, "rm", "rmi", "prune", "kill") || (name == "docker" && hasArg(args, "compose") && hasArg(args, "down"))
		},
	},
	{
		name:   "force-kill",
		reason: "force-kills processes",
		match: func(name string, args []string) bool {
			switch name {
			case "pkill", "killall", "killall5":
				return true
			case "kill":
				if hasArg(args, "-9", "-KILL", "-SIGKILL") {
					return true
				}
				for i, a := range args {
					if a == "-s" && i+1 < len(args) && strings.Contains(strings.ToUpper(args[i+1]), "KILL") {
						return true
					}
				}
			}
			return false
		},
	},
	{
		name:   "disk-wipe",
		reason: "overwrites disks or filesystems",
		match: func(name string, args []string) bool {
			switch {
			case name == "dd" && hasArgPrefix(args, "of="):
				return true
			case name == "mkfs" || strings.HasPrefix(name, "mkfs."):
				return true
			}
			return named("wipefs", "fdisk", "sfdisk", "parted", "mkswap", "swapoff", "truncate", "fallocate")(name, args)
		},
	},
	{
		name:   "privilege-escalation",
		reason: "runs with elevated privileges",
		match:  named("sudo", "su", "doas", "pkexec"),
	},
	{
		name:   "permission-change",
		reason: "changes ownership or permissions",
		match:  named("chmod", "chown", "chgrp", "setfacl", "chattr"),
	},
	{
		name:   "power",
		reason: "shuts down or restarts the host",
		match: func(name string, args []string) bool {
			switch name {
			case "shutdown", "reboot", "halt", "poweroff":
				return true
			case "init", "telinit":
				return hasArg(args, "0", "6")
			case "systemctl":
				return hasArg(args, "poweroff", "reboot", "halt", "kexec", "mask", "disable")
			}
			return false
		},
	},
}
