package plugin

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Kubernetes runs plugins as single-replica Deployments fronted by a
// ClusterIP Service, one pair per plugin, all in one namespace.
type Kubernetes struct {
	cs        kubernetes.Interface
	namespace string
	registry  *RegistryPolicy
	log       Logger
}

// NewKubernetes builds the cluster runtime from the in-cluster config.
func NewKubernetes(namespace string, registry *RegistryPolicy, log Logger) (*Kubernetes, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("not running in a cluster: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Kubernetes{cs: cs, namespace: namespace, registry: registry, log: log}, nil
}

// NewKubernetesWithClient wires an explicit clientset; used by tests.
func NewKubernetesWithClient(cs kubernetes.Interface, namespace string, registry *RegistryPolicy, log Logger) *Kubernetes {
	if namespace == "" {
		namespace = "default"
	}
	return &Kubernetes{cs: cs, namespace: namespace, registry: registry, log: log}
}

func (k *Kubernetes) Type() string { return "kubernetes" }

// Available probes the API server.
func (k *Kubernetes) Available(ctx context.Context) bool {
	_, err := k.cs.Discovery().ServerVersion()
	return err == nil
}

func (k *Kubernetes) FromTrustedRegistry(img string) bool {
	return k.registry.Allows(img)
}

// Pull validates the registry; the actual pull is the kubelet's job when the
// pod schedules.
func (k *Kubernetes) Pull(ctx context.Context, img, tag string, progress ProgressFunc) error {
	if !k.FromTrustedRegistry(img) {
		return fmt.Errorf("image %q is not from a trusted registry", img)
	}
	if progress != nil {
		progress(1, "image pull delegated to the node runtime")
	}
	return nil
}

// CreateAndStart applies the Deployment and Service for one plugin.
func (k *Kubernetes) CreateAndStart(ctx context.Context, img, name string, env map[string]string) (*Container, error) {
	labels := map[string]string{
		"app":           name,
		LabelPlugin:     "true",
		LabelPluginName: name,
	}

	envVars := make([]corev1.EnvVar, 0, len(env))
	for key, val := range env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: val})
	}

	replicas := int32(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: k.namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "plugin",
						Image: img,
						Env:   envVars,
						Ports: []corev1.ContainerPort{{ContainerPort: PluginPort}},
						ReadinessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{
									Path: "/health",
									Port: intstr.FromInt32(PluginPort),
								},
							},
							InitialDelaySeconds: 2,
							PeriodSeconds:       3,
						},
					}},
				},
			},
		},
	}
	if _, err := k.cs.AppsV1().Deployments(k.namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("failed to create deployment %s: %w", name, err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: k.namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": name},
			Ports: []corev1.ServicePort{{
				Port:       PluginPort,
				TargetPort: intstr.FromInt32(PluginPort),
			}},
		},
	}
	if _, err := k.cs.CoreV1().Services(k.namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	k.log.Info("plugin deployment created", "name", name, "namespace", k.namespace)
	return &Container{ID: name, Name: name, Image: img, Port: PluginPort, State: "starting"}, nil
}

// WaitHealthy polls the Deployment until a replica is ready.
func (k *Kubernetes) WaitHealthy(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		dep, err := k.cs.AppsV1().Deployments(k.namespace).Get(ctx, id, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("failed to get deployment %s: %w", id, err)
		}
		if dep.Status.ReadyReplicas >= 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("deployment %s not ready after %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop scales the Deployment to zero.
func (k *Kubernetes) Stop(ctx context.Context, id string) error {
	dep, err := k.cs.AppsV1().Deployments(k.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment %s: %w", id, err)
	}
	zero := int32(0)
	dep.Spec.Replicas = &zero
	if _, err := k.cs.AppsV1().Deployments(k.namespace).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to scale down deployment %s: %w", id, err)
	}
	return nil
}

// Remove deletes the Deployment and its Service.
func (k *Kubernetes) Remove(ctx context.Context, id string) error {
	if err := k.cs.AppsV1().Deployments(k.namespace).Delete(ctx, id, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete deployment %s: %w", id, err)
	}
	if err := k.cs.CoreV1().Services(k.namespace).Delete(ctx, id, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", id, err)
	}
	return nil
}

// Logs reads the tail of the plugin's first pod.
func (k *Kubernetes) Logs(ctx context.Context, id string, tailLines int) (string, error) {
	pods, err := k.cs.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + id,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods of %s: %w", id, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods found for plugin %s", id)
	}

	tail := int64(tailLines)
	raw, err := k.cs.CoreV1().Pods(k.namespace).
		GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{TailLines: &tail}).
		Do(ctx).Raw()
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	return string(raw), nil
}

// ListPlugins enumerates the plugin Deployments in the namespace.
func (k *Kubernetes) ListPlugins(ctx context.Context) ([]*Container, error) {
	deps, err := k.cs.AppsV1().Deployments(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelPlugin + "=true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin deployments: %w", err)
	}

	out := make([]*Container, 0, len(deps.Items))
	for _, d := range deps.Items {
		state := "starting"
		if d.Status.ReadyReplicas >= 1 {
			state = "running"
		} else if d.Spec.Replicas != nil && *d.Spec.Replicas == 0 {
			state = "stopped"
		}
		image := ""
		if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
			image = containers[0].Image
		}
		out = append(out, &Container{
			ID:    d.Name,
			Name:  d.Labels[LabelPluginName],
			Image: image,
			Port:  PluginPort,
			State: state,
		})
	}
	return out, nil
}

// Endpoint returns the in-cluster service URL.
func (k *Kubernetes) Endpoint(ctx context.Context, id string) (string, error) {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d", id, k.namespace, PluginPort), nil
}
