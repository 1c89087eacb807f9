package jail

import "testing"

func TestParseCgroupFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "cgroup v2",
			content: "0::/system.slice/docker-abc.scope\n",
			want:    "/system.slice/docker-abc.scope",
		},
		{
			name: "v2 preferred over v1",
			content: "12:memory:/docker/abc\n" +
				"0::/system.slice/docker-abc.scope\n",
			want: "/system.slice/docker-abc.scope",
		},
		{
			name:    "cgroup v1",
			content: "12:memory:/docker/abc\n11:cpu,cpuacct:/docker/abc\n",
			want:    "memory/docker/abc",
		},
		{
			name:    "empty",
			content: "",
			wantErr: true,
		},
		{
			name:    "garbage",
			content: "not a cgroup file\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCgroupFile(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCgroupFile error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseCgroupFile = %q, want %q", got, tt.want)
			}
		})
	}
}
