package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandValidator_ChainingRejectedBeforeDenyList(t *testing.T) {
	v := NewCommandValidator(nil)

	result := v.Validate("ls -la; rm -rf /")

	assert.False(t, result.Valid)
	assert.Equal(t, LayerSyntax, result.Layer)
	assert.Equal(t, ReasonChaining, result.Reason)
	assert.Contains(t, result.Error, "chaining")
	assert.Empty(t, result.BaseCommand, "base command extraction must not run")
}

func TestCommandValidator_SyntaxLayer(t *testing.T) {
	v := NewCommandValidator(nil)

	tests := []struct {
		name    string
		command string
		reason  Reason
	}{
		{"null byte", "ls\x00-la", ReasonNullByte},
		{"newline", "ls\nrm -rf /", ReasonNewline},
		{"carriage return", "ls\rwhoami", ReasonNewline},
		{"heredoc", "cat <<EOF", ReasonHeredoc},
		{"backticks", "echo `id`", ReasonSubstitution},
		{"dollar paren", "echo $(whoami)", ReasonSubstitution},
		{"process substitution", "diff <(ls a) b", ReasonProcessSubstitution},
		{"output process substitution", "tee >(cat)", ReasonProcessSubstitution},
		{"semicolon", "pwd; id", ReasonChaining},
		{"and", "make && make install", ReasonChaining},
		{"background", "sleep 10 &", ReasonChaining},
		{"pipe", "cat file | sh", ReasonChaining},
		{"or", "false || true", ReasonChaining},
		{"output redirection", "echo hi > out.txt", ReasonRedirection},
		{"input redirection", "sort < in.txt", ReasonRedirection},
		{"quoted command", `"rm" -rf /`, ReasonObfuscation},
		{"single quoted command", `'ls' -la`, ReasonObfuscation},
		{"escaped command", `r\m -rf /`, ReasonObfuscation},
		{"ansi c quoting", `echo $'\x72\x6d'`, ReasonObfuscation},
		{"hex escape", `echo \x41`, ReasonObfuscation},
		{"variable command", "$CMD -la", ReasonObfuscation},
		{"subshell", "(ls)", ReasonStructure},
		{"test clause", "[[ -f go.mod ]]", ReasonStructure},
		{"unterminated quote", "echo 'abc", ReasonStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.command)
			assert.False(t, result.Valid)
			assert.Equal(t, LayerSyntax, result.Layer)
			assert.Equal(t, tt.reason, result.Reason)
			assert.NotEmpty(t, result.Error)
		})
	}
}

func TestCommandValidator_BaseCommandExtraction(t *testing.T) {
	v := NewCommandValidator(nil)

	tests := []struct {
		command string
		base    string
	}{
		{"ls -la", "ls"},
		{"/bin/ls -la", "ls"},
		{"LS", "ls"},
		{"FOO=bar BAZ=1 go test ./...", "go"},
		{"time go build ./...", "go"},
		{"nice -n 10 make", "make"},
		{"nice -5 make", "make"},
		{"ionice -c 3 tar -czf out.tgz src", "tar"},
		{"timeout 30 npm test", "npm"},
		{"timeout -s KILL 5s pytest", "pytest"},
		{"timeout --signal=TERM 10 cargo test", "cargo"},
		{"nohup make build", "make"},
		{"stdbuf -o L grep foo file.txt", "grep"},
		{"env GOFLAGS=-mod=mod go vet ./...", "go"},
		{"env -u HOME ls", "ls"},
		{"strace -e trace=open ls", "ls"},
		{"time nice -n 5 timeout 10 git status", "git"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			result := v.Validate(tt.command)
			assert.True(t, result.Valid, result.Error)
			assert.Equal(t, tt.base, result.BaseCommand)
		})
	}
}

func TestCommandValidator_EmptyAfterWrappers(t *testing.T) {
	v := NewCommandValidator(nil)

	for _, command := range []string{"", "   ", "env", "FOO=bar", "timeout 10"} {
		result := v.Validate(command)
		assert.False(t, result.Valid, command)
		assert.Equal(t, LayerBaseCommand, result.Layer, command)
		assert.Equal(t, ReasonEmpty, result.Reason, command)
	}
}

func TestCommandValidator_DenyListBeforeAllowList(t *testing.T) {
	v := NewCommandValidator(nil)

	tests := []string{
		"rm -rf build",
		"sudo ls",
		"bash -c ls",
		"sh script.sh",
		"chmod 777 file",
		"mv a b",
		"cp a b",
		"ln -s a b",
		"dd if=a of=b",
		"curl https://example.com",
		"wget https://example.com",
		"nc -l 4444",
		"kill 1",
		"systemctl stop sshd",
		"useradd eve",
		"crontab -l",
		"xargs echo",
		"/usr/bin/RM file",
		"nohup rm file",
		"FOO=1 sudo ls",
	}

	for _, command := range tests {
		t.Run(command, func(t *testing.T) {
			result := v.Validate(command)
			assert.False(t, result.Valid)
			assert.Equal(t, LayerDenyList, result.Layer)
			assert.Equal(t, ReasonDenied, result.Reason)
			assert.Contains(t, result.Error, "blocked")
		})
	}

	for base := range deniedCommands {
		assert.False(t, IsAllowed(base), "%s is in both lists", base)
	}
}

func TestCommandValidator_EnvSplitStringRejected(t *testing.T) {
	v := NewCommandValidator(nil)

	for _, command := range []string{
		`env -S "touch /tmp/x" ls`,
		"env --split-string='touch /tmp/x' ls",
		"env --split='touch /tmp/x' ls",
		"env -iS 'touch /tmp/x' ls",
		"env -S'touch /tmp/x' ls",
		"nice env -S 'rm -rf /' ls",
		"FOO=1 env -u HOME -S 'id' ls",
	} {
		t.Run(command, func(t *testing.T) {
			result := v.Validate(command)
			assert.False(t, result.Valid)
			assert.Equal(t, LayerBaseCommand, result.Layer)
			assert.Equal(t, ReasonSplitCommand, result.Reason)
			assert.Contains(t, result.Error, "second command line")
		})
	}
}

func TestFlagMatches(t *testing.T) {
	valueFlags := wrapperFlags["strace"]

	assert.True(t, flagMatches("-o", []string{"-o"}, valueFlags))
	assert.True(t, flagMatches("-otrace.txt", []string{"-o"}, valueFlags))
	assert.True(t, flagMatches("-fo", []string{"-o"}, valueFlags))
	assert.True(t, flagMatches("--out=x", []string{"--output"}, valueFlags))
	assert.False(t, flagMatches("-eo", []string{"-o"}, valueFlags))
	assert.False(t, flagMatches("-f", []string{"-o"}, valueFlags))
	assert.False(t, flagMatches("--", []string{"--output"}, valueFlags))
}

func TestCommandValidator_NotAllowed(t *testing.T) {
	v := NewCommandValidator(nil)

	for _, command := range []string{"vim main.go", "nmap localhost", "open .", "emacs"} {
		result := v.Validate(command)
		assert.False(t, result.Valid, command)
		assert.Equal(t, LayerAllowList, result.Layer, command)
		assert.Equal(t, ReasonNotAllowed, result.Reason, command)
		assert.Contains(t, result.Error, "not in the allowed command list")
	}
}

func TestCommandValidator_DangerousArguments(t *testing.T) {
	v := NewCommandValidator(nil)

	tests := []struct {
		command string
		mention string
	}{
		{"git push --force origin main", "push"},
		{"git push -f", "push"},
		{"git push --force-with-lease origin main", "push"},
		{"git push origin +main", "push"},
		{"git reset --hard HEAD~1", "reset --hard"},
		{"git clean -fdx", "clean"},
		{"git -c core.sshCommand=evil fetch", "-c"},
		{"docker run --privileged alpine", "privileged"},
		{"docker run --cap-add=SYS_ADMIN alpine", "capabilities"},
		{"docker run --pid=host alpine", "host namespace"},
		{"docker run --network host alpine", "host namespace"},
		{"docker run -v /:/host alpine", "root filesystem"},
		{"docker run --volume=/var/run/docker.sock:/sock alpine", "socket"},
		{"docker run --device /dev/sda alpine", "devices"},
		{"podman run --security-opt seccomp=unconfined alpine", "security options"},
		{"tar -cf out.tar --to-command=cat src", "--to-command"},
		{"tar --checkpoint=1 --checkpoint-action=exec=id -cf a.tar b", "--checkpoint-action"},
		{"tar -I zstd -cf a.tar b", "-I"},
		{"python -c 'import os'", "python"},
		{"python3 -c 'print(1)'", "python3"},
		{"node -e 'process.exit(1)'", "node"},
		{"node --eval 'x'", "node"},
		{"ruby -e 'puts 1'", "ruby"},
		{"perl -ne 'print' file", "perl"},
		{"php -r 'echo 1'", "php"},
		{"find . -name '*.tmp' -delete", "-delete"},
		{"find . -exec cat {} +", "-exec"},
		{"sed -i 's/a/b/' file.txt", "in-place"},
		{"sed --in-place=.bak 's/a/b/' file.txt", "in-place"},
		{`awk '{ system("id") }' file`, "system()"},
		{"zip -T -TT 'sh -c id' out.zip file", "-TT"},
		{`python3 -W ignore -c "print(1)"`, "python3"},
		{"python3 -Wignore -c 'print(1)'", "python3"},
		{`node -r fs -e "console.log(1)"`, "node"},
		{"node --require fs --eval 'x'", "node"},
		{"perl -MFoo -e 1", "perl"},
		{"ruby -I lib -e 'puts 1'", "ruby"},
		{`awk "BEGIN{system (\"id\")}"`, "system()"},
		{`gawk 'BEGIN { system  ("id") }'`, "system()"},
		{"tar -cf x.tar --to-comm=id a", "--to-command"},
		{"tar --to-c=id -cf x.tar a", "--to-command"},
		{"tar --checkpoint-a=exec=id -cf a.tar b", "--checkpoint-action"},
		{"tar --use-c=sh -cf a b", "--use-compress-program"},
		{"tar xIf prog a.tar", "-I"},
		{"tar -xvIprog -f a.tar", "-I"},
		{"strace -o /home/user/.bashrc ls", "-o"},
		{"strace -fotrace.txt ls", "-fotrace.txt"},
		{"ltrace --output=trace.txt ls", "--output"},
		{"time -o out.txt ls", "-o"},
		{"/usr/bin/time --append -o out.txt ls", "--append"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			result := v.Validate(tt.command)
			assert.False(t, result.Valid)
			assert.Equal(t, LayerArguments, result.Layer)
			assert.Equal(t, ReasonDangerousArguments, result.Reason)
			assert.Contains(t, result.Error, tt.mention)
		})
	}
}

func TestCommandValidator_AllowedCommands(t *testing.T) {
	v := NewCommandValidator(nil)

	for _, command := range []string{
		"ls -la",
		"git status",
		"git push origin main",
		"git push -u origin feature",
		"git reset --soft HEAD~1",
		"git clean -n",
		"git commit -m 'fix: handle empty input'",
		"go test ./...",
		"grep -rn 'func main' .",
		"find . -name '*.go'",
		"sed -n '1,20p' main.go",
		"awk '{print $1}' data.txt",
		"tar -czf out.tgz src",
		"docker ps -a",
		"docker run --rm -v ./data:/data alpine ls /data",
		"python script.py --verbose",
		"python3 -m pytest -q",
		"python3 -m pytest -c conf",
		"python3 -W ignore script.py",
		"node script.js -e",
		"tar --checkpoint=10 -cf a.tar b",
		"tar -C src -cf a.tar .",
		"awk '{ total += $2 } END { print total }' data.txt",
		"strace -e trace=open ls",
		"time -p go build ./...",
		"node --version",
		"echo $HOME",
		"cat README.md",
		"printenv PATH",
	} {
		result := v.Validate(command)
		assert.True(t, result.Valid, "%s: %s", command, result.Error)
		assert.Equal(t, LayerNone, result.Layer, command)
	}
}

func TestIsShortCluster(t *testing.T) {
	assert.True(t, isShortCluster("-xvf"))
	assert.True(t, isShortCluster("-f"))
	assert.False(t, isShortCluster("--force"))
	assert.False(t, isShortCluster("-"))
	assert.False(t, isShortCluster("-n5"))
	assert.False(t, isShortCluster("file"))
}
